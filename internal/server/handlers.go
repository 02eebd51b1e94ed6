// Package server provides the HTTP surface: the intercepting proxy serving
// every origin request through the caching strategies, plus the feed and
// lifecycle control API.
package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chicotreta/evknews/internal/core"
	"github.com/chicotreta/evknews/internal/dispatch"
	"github.com/chicotreta/evknews/internal/feed"
	"github.com/chicotreta/evknews/internal/lifecycle"
)

// maxControlBody bounds a control message body.
const maxControlBody = 4 * 1024

// Handler holds the HTTP handlers.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	manager    *lifecycle.Manager
	engine     *feed.Engine
	snapshots  *feed.SnapshotStore
}

// NewHandler creates a handler over the assembled components.
func NewHandler(dispatcher *dispatch.Dispatcher, manager *lifecycle.Manager, engine *feed.Engine, snapshots *feed.SnapshotStore) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		manager:    manager,
		engine:     engine,
		snapshots:  snapshots,
	}
}

// Intercept handles every request not claimed by the API routes, serving it
// through the caching strategies.
func (h *Handler) Intercept(c echo.Context) error {
	res, err := h.dispatcher.Dispatch(c.Request().Context(), c.Request())
	if err != nil {
		return handleError(c, core.NewTransportError("upstream request failed", err))
	}

	header := c.Response().Header()
	for k, values := range res.Response.Header {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	header.Set("X-Cache-Strategy", string(res.Strategy))
	header.Set("X-Cache-Source", string(res.Source))

	return c.Blob(res.Response.Status, res.Response.Header.Get("Content-Type"), res.Response.Body)
}

// Control handles POST /control: lifecycle control messages.
func (h *Handler) Control(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxControlBody))
	if err != nil {
		return handleError(c, core.NewTransportError("reading control message", err))
	}

	if err := h.manager.HandleMessage(c.Request().Context(), body); err != nil {
		// An unreadable message is the client's fault, not an upstream failure.
		var feedErr *core.FeedError
		if errors.As(err, &feedErr) && feedErr.Kind == core.KindMalformedFeed {
			return c.JSON(http.StatusBadRequest, feedErr.ToJSON())
		}
		return handleError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"status": "accepted",
		"state":  string(h.manager.State()),
	})
}

// feedResponse is the GET /api/feed payload.
type feedResponse struct {
	Items    []feed.Item `json:"items"`
	Tags     []string    `json:"tags"`
	Fallback bool        `json:"fallback"`
	LastSync string      `json:"last_sync,omitempty"`
}

// Feed handles GET /api/feed. An optional tag query filters the items.
func (h *Handler) Feed(c echo.Context) error {
	items := h.engine.Items()

	resp := feedResponse{
		Items:    feed.FilterByTag(items, c.QueryParam("tag")),
		Tags:     feed.UniqueTags(items),
		Fallback: h.engine.FallbackActive(),
	}
	if last := h.snapshots.LastSync(c.Request().Context()); !last.IsZero() {
		resp.LastSync = last.Format(time.RFC3339)
	}

	return c.JSON(http.StatusOK, resp)
}

// Sync handles POST /api/sync: one synchronous reconciliation cycle.
func (h *Handler) Sync(c echo.Context) error {
	outcome := h.engine.Sync(c.Request().Context())

	body := map[string]interface{}{"outcome": string(outcome.Kind)}
	if outcome.Err != nil {
		body["error"] = outcome.Err.Error()
	}
	if outcome.Reason != "" {
		body["fallback_reason"] = string(outcome.Reason)
	}

	status := http.StatusOK
	if outcome.Kind == feed.OutcomeFailed {
		status = http.StatusBadGateway
	}
	return c.JSON(status, body)
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"state":   string(h.manager.State()),
		"version": h.manager.Version(),
	})
}

// handleError converts feed errors to appropriate HTTP responses.
func handleError(c echo.Context, err error) error {
	var feedErr *core.FeedError
	if errors.As(err, &feedErr) {
		return c.JSON(feedErr.HTTPStatusCode(), feedErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
