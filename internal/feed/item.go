// Package feed implements the client-side feed synchronization engine: local
// snapshot loading, conditional network fetches with content-hash
// deduplication, item normalization, and the offline/error fallback feed.
package feed

import (
	"sort"
	"strconv"
	"strings"
)

// DefaultImage is the bundled image path substituted for invalid image URLs
// and used by fallback items.
const DefaultImage = "./evknews.png"

// FallbackIDPrefix marks synthetic fallback items so downstream consumers
// (analytics, share, open-detail) can recognize and suppress them.
const FallbackIDPrefix = "fallback-"

// Upper bounds for normalized text fields. These are safety bounds against
// malformed upstream data, not semantic truncation rules.
const (
	maxTitle     = 200
	maxDesc      = 5000
	maxSource    = 80
	maxCredit    = 120
	maxImage     = 800
	maxImgCredit = 200
	maxURL       = 800
	maxDate      = 40
)

// Item is one normalized feed entry.
type Item struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Desc      string   `json:"desc"`
	Source    string   `json:"source"`
	Credit    string   `json:"credit"`
	Image     string   `json:"image"`
	ImgCredit string   `json:"img_credit"`
	URL       string   `json:"url"`
	Tags      []string `json:"tags"`
	Date      string   `json:"date"`
}

// IsFallback reports whether the item is a synthetic fallback entry.
func (n Item) IsFallback() bool {
	return strings.HasPrefix(n.ID, FallbackIDPrefix)
}

// HasTag reports tag membership. Order-independent; Tags stays sorted only
// for display.
func (n Item) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Normalize bounds every field of a raw item and fills defaults. idx supplies
// the positional fallback id. Normalization is idempotent: normalizing an
// already-normalized item yields the same item.
func Normalize(n Item, idx int) Item {
	id := n.ID
	if id == "" {
		id = n.URL
	}
	if id == "" {
		id = n.Title
	}
	if id == "" {
		id = strconv.Itoa(idx)
	}

	title := n.Title
	if title == "" {
		title = "Untitled"
	}

	image := n.Image
	if !validImageURL(image) {
		image = DefaultImage
	}

	return Item{
		ID:        truncate(id, maxURL),
		Title:     truncate(title, maxTitle),
		Desc:      truncate(n.Desc, maxDesc),
		Source:    truncate(n.Source, maxSource),
		Credit:    truncate(n.Credit, maxCredit),
		Image:     truncate(image, maxImage),
		ImgCredit: truncate(n.ImgCredit, maxImgCredit),
		URL:       truncate(n.URL, maxURL),
		Tags:      normalizeTags(n.Tags),
		Date:      truncate(n.Date, maxDate),
	}
}

// NormalizeAll normalizes a decoded item array in order.
func NormalizeAll(raw []Item) []Item {
	items := make([]Item, len(raw))
	for i, n := range raw {
		items[i] = Normalize(n, i)
	}
	return items
}

// UniqueTags returns the sorted union of all tags across items.
func UniqueTags(items []Item) []string {
	seen := make(map[string]struct{})
	for _, n := range items {
		for _, t := range n.Tags {
			seen[t] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// FilterByTag returns the items carrying tag; an empty tag selects everything.
func FilterByTag(items []Item, tag string) []Item {
	if tag == "" {
		return append([]Item(nil), items...)
	}
	var out []Item
	for _, n := range items {
		if n.HasTag(tag) {
			out = append(out, n)
		}
	}
	return out
}

// validImageURL checks the allow-list of schemes and prefixes. Anything else
// is replaced by the bundled default image.
func validImageURL(s string) bool {
	for _, prefix := range []string{"http://", "https://", "./", "/", "data:"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// truncate caps s at max runes, appending an ellipsis when it cuts.
// Truncating an already-truncated string is a no-op.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// normalizeTags trims, drops empties, deduplicates, and sorts.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
