package http

import (
	"net/http"

	"github.com/verdikt-labs/verdikt/internal/domain/params"
)

// GetParams returns the active protocol parameters.
func (h *Handlers) GetParams(w http.ResponseWriter, r *http.Request) {
	p, err := h.Params.Get(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateParams replaces the tunable protocol parameters. Owner only.
func (h *Handlers) UpdateParams(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	next, ok := readJSON[params.Params](w, r)
	if !ok {
		return
	}
	p, err := h.Params.Update(r.Context(), caller, next)
	if err != nil {
		writeDomainError(w, err, "parameters not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetShares updates the payout split. Fee recipient only.
func (h *Handlers) SetShares(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	shares, ok := readJSON[params.Shares](w, r)
	if !ok {
		return
	}
	p, err := h.Params.SetShares(r.Context(), caller, shares)
	if err != nil {
		writeDomainError(w, err, "parameters not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetPaused halts or resumes all mutating protocol entry points. Owner only.
func (h *Handlers) SetPaused(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		Paused bool `json:"paused"`
	}](w, r)
	if !ok {
		return
	}
	p, err := h.Params.SetPaused(r.Context(), caller, body.Paused)
	if err != nil {
		writeDomainError(w, err, "parameters not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
