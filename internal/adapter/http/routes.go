package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Health)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Escrowed tasks
		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Post("/tasks/permit", h.CreateTaskWithPermit)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/accept", h.AcceptTask)
		r.Post("/tasks/{id}/accept-signed", h.AcceptTaskSigned)
		r.Post("/tasks/{id}/provider", h.AssignProvider)
		r.Post("/tasks/{id}/submit", h.SubmitWork)
		r.Post("/tasks/{id}/challenge", h.ChallengeTask)
		r.Post("/tasks/{id}/finalize", h.FinalizeTask)
		r.Post("/tasks/{id}/approve", h.ApproveTask)
		r.Post("/tasks/{id}/resolve", h.ResolveChallenge)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
		r.Post("/tasks/{id}/claim-expired", h.ClaimExpiredRefund)
		r.Get("/tasks/{id}/events", h.ListTaskEvents)

		// Validation requirements (nested under tasks)
		r.Put("/tasks/{id}/requirements", h.SetRequirement)
		r.Get("/tasks/{id}/requirements", h.ListRequirements)
		r.Get("/tasks/{id}/validations", h.ListValidationsByTask)

		// Jurors
		r.Get("/jurors", h.ListJurors)
		r.Post("/jurors/register", h.RegisterJuror)
		r.Post("/jurors/unregister", h.BeginUnregister)
		r.Post("/jurors/unstake", h.CompleteUnregister)
		r.Get("/jurors/{account}", h.GetJuror)

		// Consensus tasks
		r.Get("/consensus/tasks", h.ListConsensusTasks)
		r.Post("/consensus/tasks", h.OpenConsensusTask)
		r.Get("/consensus/tasks/{id}", h.GetConsensusTask)
		r.Get("/consensus/tasks/{id}/votes", h.ListVotes)
		r.Post("/consensus/tasks/{id}/vote", h.CastVote)
		r.Post("/consensus/tasks/{id}/finalize", h.FinalizeConsensusTask)

		// Validation registry
		r.Post("/validations", h.OpenValidation)
		r.Get("/validations/{hash}", h.GetValidation)
		r.Post("/validations/{hash}/respond", h.RespondValidation)
		r.Get("/validations/{hash}/status", h.GetValidationStatus)

		// Receipts
		r.Post("/receipts", h.LinkReceipt)
		r.Get("/receipts/{scope}", h.ListReceipts)

		// Token ledger
		r.Get("/token/{token}/balance/{account}", h.GetBalance)
		r.Get("/token/{token}/allowance/{owner}/{spender}", h.GetAllowance)
		r.Get("/token/{token}/nonce/{owner}", h.GetPermitNonce)
		r.Post("/token/transfer", h.TransferToken)
		r.Post("/token/approve", h.ApproveToken)
		r.Post("/token/transfer-from", h.TransferFromToken)
		r.Post("/token/permit", h.PermitToken)
		r.Post("/token/mint", h.MintToken)

		// Protocol parameters
		r.Get("/params", h.GetParams)
		r.Put("/params", h.UpdateParams)
		r.Put("/params/shares", h.SetShares)
		r.Put("/params/pause", h.SetPaused)
	})
}
