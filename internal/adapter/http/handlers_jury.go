package http

import (
	"net/http"

	"github.com/verdikt-labs/verdikt/internal/domain/jury"
	"github.com/verdikt-labs/verdikt/internal/port/database"
)

// RegisterJuror stakes the caller into the juror pool.
func (h *Handlers) RegisterJuror(w http.ResponseWriter, r *http.Request) {
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
	j, err := h.Jury.Register(r.Context(), caller, body.Stake)
	if err != nil {
		writeDomainError(w, err, "juror not found")
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// BeginUnregister starts the caller's unstake cooldown.
func (h *Handlers) BeginUnregister(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	j, err := h.Jury.BeginUnregister(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err, "juror not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// CompleteUnregister returns the stake once the cooldown has elapsed.
func (h *Handlers) CompleteUnregister(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	j, err := h.Jury.CompleteUnregister(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err, "juror not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// GetJuror returns one juror record by account.
func (h *Handlers) GetJuror(w http.ResponseWriter, r *http.Request) {
	j, err := h.Jury.Juror(r.Context(), urlParam(r, "account"))
	if err != nil {
		writeDomainError(w, err, "juror not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// ListJurors returns every registered juror.
func (h *Handlers) ListJurors(w http.ResponseWriter, r *http.Request) {
	jurors, err := h.Jury.Jurors(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jurors)
}

// OpenConsensusTask submits work for jury review outside the escrow flow.
func (h *Handlers) OpenConsensusTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[jury.CreateRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Jury.Open(r.Context(), caller, req)
	if err != nil {
		writeDomainError(w, err, "consensus task not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetConsensusTask returns one consensus task by ID.
func (h *Handlers) GetConsensusTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Jury.GetTask(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "consensus task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListConsensusTasks returns consensus tasks matching the optional filters.
func (h *Handlers) ListConsensusTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.ConsensusFilter{
		Creator: q.Get("creator"),
		Status:  jury.TaskStatus(q.Get("status")),
		Limit:   queryInt(r, "limit", 0),
	}
	tasks, err := h.Jury.Tasks(r.Context(), f)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// ListVotes returns the votes cast on a consensus task.
func (h *Handlers) ListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.Jury.Votes(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "consensus task not found")
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

// CastVote records the caller's score on a consensus task.
func (h *Handlers) CastVote(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		Score     int    `json:"score"`
		Rationale string `json:"rationale"`
	}](w, r)
	if !ok {
		return
	}
	t, err := h.Jury.Vote(r.Context(), caller, urlParam(r, "id"), body.Score, body.Rationale)
	if err != nil {
		writeDomainError(w, err, "consensus task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// FinalizeConsensusTask folds the recorded votes into a verdict once quorum
// or the deadline is reached.
func (h *Handlers) FinalizeConsensusTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	t, err := h.Jury.Finalize(r.Context(), caller, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "consensus task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
