package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/gjson"

	"github.com/chicotreta/evknews/internal/core"
)

// maxFeedBytes bounds the feed document size read from the network.
const maxFeedBytes = 10 * 1024 * 1024 // 10 MB

// FetchResult is the outcome of one conditional feed fetch.
type FetchResult struct {
	// NotModified is set for an HTTP 304 or when the payload hashed equal to
	// lastHash (validator churn without content change).
	NotModified bool

	// Items holds the normalized item array when NotModified is false.
	Items []Item

	// Validator is the validator token to persist: the response ETag when the
	// server sent one, otherwise the token passed in.
	Validator string

	// Hash is the content hash of the fetched payload; empty on a 304.
	Hash string
}

// Client fetches the feed document from the origin with conditional-request
// metadata.
type Client struct {
	http *http.Client
	url  string
}

// NewClient builds a feed client for the absolute feed document URL.
func NewClient(httpClient *http.Client, url string) *Client {
	return &Client{http: httpClient, url: url}
}

// Fetch performs a conditional GET of the feed document.
// validator carries the last known validator token (sent as If-None-Match);
// lastHash carries the last stored content hash.
// Network-level failures return a transport error; a payload that is not a
// JSON array returns a malformed-feed error.
func (c *Client) Fetch(ctx context.Context, validator, lastHash string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if validator != "" {
		req.Header.Set("If-None-Match", validator)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.NewTransportError("feed fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{NotModified: true, Validator: validator}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewTransportError(fmt.Sprintf("feed fetch returned status %d", resp.StatusCode), nil)
	}

	limited := io.LimitReader(resp.Body, maxFeedBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, core.NewTransportError("reading feed body", err)
	}
	if len(raw) > maxFeedBytes {
		return nil, core.NewMalformedFeedError(fmt.Sprintf("feed document exceeds %d bytes", maxFeedBytes), nil)
	}

	newValidator := resp.Header.Get("ETag")
	if newValidator == "" {
		newValidator = validator
	}

	hash := ContentHash(raw)
	if lastHash != "" && lastHash == hash {
		// Same bytes behind a new validator: report NotModified but surface the
		// fresh validator so the next request can use it.
		return &FetchResult{NotModified: true, Validator: newValidator, Hash: hash}, nil
	}

	items, err := ParseItems(raw)
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Items:     items,
		Validator: newValidator,
		Hash:      hash,
	}, nil
}

// ContentHash computes the content hash used for payload deduplication.
func ContentHash(raw []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(raw))
}

// ParseItems decodes and normalizes a feed payload. The payload must be a
// JSON array of item objects; anything else is a malformed feed.
func ParseItems(raw []byte) ([]Item, error) {
	if !gjson.ValidBytes(raw) {
		return nil, core.NewMalformedFeedError("feed document is not valid JSON", nil)
	}
	if !gjson.ParseBytes(raw).IsArray() {
		return nil, core.NewMalformedFeedError("feed document is not an array", nil)
	}

	var decoded []Item
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, core.NewMalformedFeedError("feed items failed to decode", err)
	}
	return NormalizeAll(decoded), nil
}
