package handler

import (
	"net/http"

	"github.com/arbiterlabs/triarb/internal/graph"
	"github.com/arbiterlabs/triarb/internal/guard"
	"github.com/arbiterlabs/triarb/internal/pricecache"
	"github.com/arbiterlabs/triarb/internal/publish"
	"github.com/arbiterlabs/triarb/internal/stream"
)

// StatusSnapshot is the aggregate runtime state served to the dashboard.
type StatusSnapshot struct {
	Connections []stream.ConnStatus            `json:"connections"`
	Cache       pricecache.Stats               `json:"cache"`
	Detector    graph.Stats                    `json:"detector"`
	Breakers    map[string]guard.BreakerStatus `json:"breakers"`
	Publisher   publish.Stats                  `json:"publisher"`
	UptimeSec   int64                          `json:"uptime_seconds"`
}

// StatusProvider assembles a snapshot on demand. The app layer wires it so
// the handler package depends on components, not the other way around.
type StatusProvider func() StatusSnapshot

// StatusHandler serves the aggregated runtime status.
type StatusHandler struct {
	provide StatusProvider
}

// NewStatusHandler creates a StatusHandler over the given provider.
func NewStatusHandler(provide StatusProvider) *StatusHandler {
	return &StatusHandler{provide: provide}
}

// GetStatus responds with the current connection, cache, breaker and
// publisher state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provide())
}
