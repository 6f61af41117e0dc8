package http

import (
	"net/http"

	"github.com/verdikt-labs/verdikt/internal/domain/escrow"
	"github.com/verdikt-labs/verdikt/internal/port/database"
	"github.com/verdikt-labs/verdikt/internal/service"
)

// CreateTask opens a new escrowed task funded by the caller.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[escrow.CreateRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Escrow.Create(r.Context(), caller, req)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// CreateTaskWithPermit opens a task using a signed token permit instead of a
// pre-set allowance, so funding needs no prior transaction by the funder.
func (h *Handlers) CreateTaskWithPermit(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		escrow.CreateRequest
		Permit service.Permit `json:"permit"`
	}](w, r)
	if !ok {
		return
	}
	t, err := h.Escrow.CreateWithPermit(r.Context(), body.CreateRequest, body.Permit)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTask returns a single task by ID.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Escrow.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTasks returns tasks matching the optional funder/executor/status filters.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.TaskFilter{
		Funder:   q.Get("funder"),
		Executor: q.Get("executor"),
		Status:   escrow.Status(q.Get("status")),
		Limit:    queryInt(r, "limit", 0),
	}
	tasks, err := h.Escrow.List(r.Context(), f)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// AcceptTask binds the caller as executor of an open task.
func (h *Handlers) AcceptTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	t, err := h.Escrow.Accept(r.Context(), caller, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// AcceptTaskSigned binds a delegated executor using an off-channel signature.
func (h *Handlers) AcceptTaskSigned(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	auth, ok := readJSON[service.SignedAccept](w, r)
	if !ok {
		return
	}
	if !requireField(w, auth.Executor, "executor") || !requireField(w, auth.Signature, "signature") {
		return
	}
	t, err := h.Escrow.AcceptSigned(r.Context(), caller, urlParam(r, "id"), auth)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// AssignProvider records a compute provider and its negotiated fee.
func (h *Handlers) AssignProvider(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		Provider string `json:"provider"`
		Fee      int64  `json:"fee"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Provider, "provider") {
		return
	}
	t, err := h.Escrow.AssignProvider(r.Context(), caller, urlParam(r, "id"), body.Provider, body.Fee)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// SubmitWork records the executor's deliverable and starts the challenge window.
func (h *Handlers) SubmitWork(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		EvidenceURI string `json:"evidence_uri"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.EvidenceURI, "evidence_uri") {
		return
	}
	t, err := h.Escrow.SubmitWork(r.Context(), caller, urlParam(r, "id"), body.EvidenceURI)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ChallengeTask disputes a submission, staking the caller's tokens and
// opening a jury review.
func (h *Handlers) ChallengeTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		Stake int64 `json:"stake"`
	}](w, r)
	if !ok {
		return
	}
	t, err := h.Escrow.Challenge(r.Context(), caller, urlParam(r, "id"), body.Stake)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// FinalizeTask settles an unchallenged submission after the window elapsed.
func (h *Handlers) FinalizeTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	t, err := h.Escrow.Finalize(r.Context(), caller, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ApproveTask lets the funder settle a submission before the window elapses.
func (h *Handlers) ApproveTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	t, err := h.Escrow.Approve(r.Context(), caller, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ResolveChallenge settles a challenged task from its jury verdict.
func (h *Handlers) ResolveChallenge(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	t, err := h.Escrow.ResolveChallenge(r.Context(), caller, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CancelTask refunds an open task at the funder's request.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	t, err := h.Escrow.Cancel(r.Context(), caller, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ClaimExpiredRefund refunds an accepted task whose deadline passed without a
// submission.
func (h *Handlers) ClaimExpiredRefund(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	t, err := h.Escrow.ClaimExpiredRefund(r.Context(), caller, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// SetRequirement creates or replaces the validation policy for one task tag.
func (h *Handlers) SetRequirement(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[escrow.ValidationRequirement](w, r)
	if !ok {
		return
	}
	req.TaskID = urlParam(r, "id")
	if err := h.Escrow.SetRequirement(r.Context(), caller, req); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListRequirements returns the task's validation requirements with their
// current aggregates and satisfaction state.
func (h *Handlers) ListRequirements(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.Escrow.Requirements(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// ListTaskEvents returns the task's audit trail, newest first.
func (h *Handlers) ListTaskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Escrow.Events(r.Context(), urlParam(r, "id"), queryInt(r, "limit", 100))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
