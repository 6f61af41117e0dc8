// Package http exposes the escrow, jury, validation, token and protocol
// parameter services over a chi-routed JSON API.
package http

import (
	"net/http"
	"time"

	"github.com/verdikt-labs/verdikt/internal/adapter/ws"
	"github.com/verdikt-labs/verdikt/internal/port/messagequeue"
	"github.com/verdikt-labs/verdikt/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Escrow     *service.EscrowService
	Jury       *service.JuryService
	Validation *service.ValidationService
	Params     *service.ParamsService
	Token      *service.TokenService
	Hub        *ws.Hub
	Queue      messagequeue.Queue

	startedAt time.Time
}

// NewHandlers wires the service layer into the HTTP surface.
func NewHandlers(
	escrow *service.EscrowService,
	jury *service.JuryService,
	validation *service.ValidationService,
	params *service.ParamsService,
	token *service.TokenService,
	hub *ws.Hub,
	queue messagequeue.Queue,
) *Handlers {
	return &Handlers{
		Escrow:     escrow,
		Jury:       jury,
		Validation: validation,
		Params:     params,
		Token:      token,
		Hub:        hub,
		Queue:      queue,
		startedAt:  time.Now(),
	}
}

// Health reports process liveness and the state of the message queue link.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	queueConnected := h.Queue != nil && h.Queue.IsConnected()
	if !queueConnected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"queue":          queueConnected,
		"ws_connections": h.Hub.ConnectionCount(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
