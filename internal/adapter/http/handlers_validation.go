package http

import (
	"net/http"

	"github.com/verdikt-labs/verdikt/internal/domain/registry"
)

// OpenValidation registers a validation request addressed to a jury or an
// external validator. Reposting an identical request returns the existing one.
func (h *Handlers) OpenValidation(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[registry.OpenRequest](w, r)
	if !ok {
		return
	}
	out, err := h.Validation.Open(r.Context(), caller, req)
	if err != nil {
		writeDomainError(w, err, "validation request not found")
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetValidation returns one validation request by hash.
func (h *Handlers) GetValidation(w http.ResponseWriter, r *http.Request) {
	req, err := h.Validation.Get(r.Context(), urlParam(r, "hash"))
	if err != nil {
		writeDomainError(w, err, "validation request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListValidationsByTask returns all validation requests referencing a task.
func (h *Handlers) ListValidationsByTask(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Validation.ListByTask(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// RespondValidation records the addressed validator's score for a request.
func (h *Handlers) RespondValidation(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		Score      int    `json:"score"`
		Tag        string `json:"tag"`
		LocatorURI string `json:"locator_uri"`
	}](w, r)
	if !ok {
		return
	}
	st, err := h.Validation.Respond(r.Context(), caller, urlParam(r, "hash"), body.Score, body.Tag, body.LocatorURI)
	if err != nil {
		writeDomainError(w, err, "validation request not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetValidationStatus returns the recorded response for a request hash.
func (h *Handlers) GetValidationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Validation.Status(r.Context(), urlParam(r, "hash"))
	if err != nil {
		writeDomainError(w, err, "validation status not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// LinkReceipt attaches an off-channel artifact to a task or request scope.
// Relinking the same (id, scope) pair is a no-op that returns the stored row.
func (h *Handlers) LinkReceipt(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		ID         string `json:"id"`
		Scope      string `json:"scope"`
		LocatorURI string `json:"locator_uri"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.ID, "id") || !requireField(w, body.Scope, "scope") {
		return
	}
	rc, err := h.Validation.LinkReceipt(r.Context(), caller, body.ID, body.Scope, body.LocatorURI)
	if err != nil {
		writeDomainError(w, err, "receipt scope not found")
		return
	}
	writeJSON(w, http.StatusCreated, rc)
}

// ListReceipts returns the receipts linked under one scope.
func (h *Handlers) ListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.Validation.Receipts(r.Context(), urlParam(r, "scope"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}
