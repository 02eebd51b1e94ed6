// Package core provides shared types and the error taxonomy for the feed core.
package core

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure of the cache or sync machinery.
type ErrorKind string

const (
	// KindTransport indicates the network was unreachable, timed out, or refused.
	KindTransport ErrorKind = "transport_error"
	// KindMalformedFeed indicates a payload was fetched but is not a valid item array.
	KindMalformedFeed ErrorKind = "malformed_feed"
	// KindStorageQuota indicates a snapshot was too large to persist.
	// Writes that hit this are skipped silently; the kind exists for metrics and tests.
	KindStorageQuota ErrorKind = "storage_quota_exceeded"
	// KindPrecacheIncomplete indicates one or more manifest assets failed during install.
	// Fatal to installation: the new generation must not activate.
	KindPrecacheIncomplete ErrorKind = "precache_incomplete"
	// KindNotFound indicates a cache or state lookup had no entry.
	KindNotFound ErrorKind = "not_found"
)

// FeedError is the base error type for cache and sync failures.
type FeedError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *FeedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *FeedError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status code used when the error leaks to an HTTP caller.
func (e *FeedError) HTTPStatusCode() int {
	switch e.Kind {
	case KindTransport:
		return http.StatusGatewayTimeout
	case KindMalformedFeed:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map.
func (e *FeedError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"kind":    e.Kind,
			"message": e.Message,
		},
	}
}

// NewTransportError creates a transport-level error (offline, timeout, refused).
func NewTransportError(message string, err error) *FeedError {
	return &FeedError{Kind: KindTransport, Message: message, Err: err}
}

// NewMalformedFeedError creates an error for payloads that are not item arrays.
func NewMalformedFeedError(message string, err error) *FeedError {
	return &FeedError{Kind: KindMalformedFeed, Message: message, Err: err}
}

// NewStorageQuotaError creates an error for oversized snapshot writes.
func NewStorageQuotaError(size, ceiling int) *FeedError {
	return &FeedError{
		Kind:    KindStorageQuota,
		Message: fmt.Sprintf("snapshot of %d bytes exceeds ceiling of %d bytes", size, ceiling),
	}
}

// NewPrecacheIncompleteError creates the fatal install error. failed lists the
// manifest paths that could not be fetched or stored.
func NewPrecacheIncompleteError(failed []string, err error) *FeedError {
	return &FeedError{
		Kind:    KindPrecacheIncomplete,
		Message: fmt.Sprintf("precache failed for %d manifest assets: %v", len(failed), failed),
		Err:     err,
	}
}

// NewNotFoundError creates a lookup-miss error.
func NewNotFoundError(message string) *FeedError {
	return &FeedError{Kind: KindNotFound, Message: message}
}
