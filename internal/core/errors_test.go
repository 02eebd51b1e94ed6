package core

import (
	"errors"
	"net/http"
	"testing"
)

func TestFeedError(t *testing.T) {
	t.Run("WrapsOriginalError", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		err := NewTransportError("feed fetch failed", cause)

		if !errors.Is(err, cause) {
			t.Error("expected errors.Is to find the wrapped cause")
		}

		var fe *FeedError
		if !errors.As(error(err), &fe) {
			t.Fatal("expected errors.As to match *FeedError")
		}
		if fe.Kind != KindTransport {
			t.Errorf("expected kind %q, got %q", KindTransport, fe.Kind)
		}
	})

	t.Run("StatusCodes", func(t *testing.T) {
		cases := []struct {
			err  *FeedError
			want int
		}{
			{NewTransportError("offline", nil), http.StatusGatewayTimeout},
			{NewMalformedFeedError("not an array", nil), http.StatusBadGateway},
			{NewNotFoundError("no entry"), http.StatusNotFound},
			{NewStorageQuotaError(3_000_000, 2_000_000), http.StatusInternalServerError},
		}
		for _, tc := range cases {
			if got := tc.err.HTTPStatusCode(); got != tc.want {
				t.Errorf("%s: expected status %d, got %d", tc.err.Kind, tc.want, got)
			}
		}
	})

	t.Run("PrecacheIncompleteListsAssets", func(t *testing.T) {
		err := NewPrecacheIncompleteError([]string{"/styles.css", "/app.js"}, nil)
		if err.Kind != KindPrecacheIncomplete {
			t.Fatalf("unexpected kind %q", err.Kind)
		}
		if err.Message == "" {
			t.Error("expected message naming the failed assets")
		}
	})
}
