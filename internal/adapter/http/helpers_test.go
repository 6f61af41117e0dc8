package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/middleware"
)

func TestWriteDomainErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"validation", fmt.Errorf("%w: reward must be positive", domain.ErrValidation), http.StatusBadRequest},
		{"unauthorized", domain.ErrUnauthorized, http.StatusForbidden},
		{"conflict of interest", domain.ErrConflictOfInterest, http.StatusForbidden},
		{"bad signature", domain.ErrBadSignature, http.StatusUnauthorized},
		{"replayed signature", domain.ErrReplayedSignature, http.StatusUnauthorized},
		{"paused", domain.ErrPaused, http.StatusServiceUnavailable},
		{"invalid state", domain.ErrInvalidState, http.StatusConflict},
		{"window open", domain.ErrChallengeWindowOpen, http.StatusConflict},
		{"validations not satisfied", domain.ErrValidationsNotSatisfied, http.StatusConflict},
		{"already voted", domain.ErrAlreadyVoted, http.StatusConflict},
		{"cooldown", domain.ErrCooldownActive, http.StatusConflict},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"insufficient stake", domain.ErrInsufficientStake, http.StatusUnprocessableEntity},
		{"fee cap", domain.ErrFeeExceedsCap, http.StatusUnprocessableEntity},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tc.err, "not here")
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			var body errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("non-JSON error body: %v", err)
			}
			if body.Error == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestWriteDomainErrorHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, errors.New("pq: connection refused to 10.0.0.5"), "task not found")
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Error("internal error detail leaked to the client")
	}
}

func TestWriteDomainErrorStripsValidationPrefix(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("%w: reward must be positive", domain.ErrValidation), "")
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "reward must be positive" {
		t.Errorf("message = %q, want the bare field error", body.Error)
	}
}

func TestWriteDomainErrorUniqueViolation(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, errors.New("ERROR: duplicate key value violates unique constraint \"tasks_pkey\" (SQLSTATE 23505)"), "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for a unique violation", rec.Code)
	}
}

func TestReadJSONRejectsMalformed(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{nope"))
	if _, ok := readJSON[map[string]any](rec, req); ok {
		t.Fatal("malformed body accepted")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReadJSONRejectsOversized(t *testing.T) {
	rec := httptest.NewRecorder()
	big := `{"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	if _, ok := readJSON[map[string]any](rec, req); ok {
		t.Fatal("oversized body accepted")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestRequireCaller(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := requireCaller(rec, req); ok {
		t.Fatal("anonymous request passed")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	req.Header.Set(middleware.HeaderAccount, "0xCaller")
	caller, ok := requireCaller(httptest.NewRecorder(), req)
	if !ok || caller != "0xcaller" {
		t.Errorf("got %q/%v, want normalized caller", caller, ok)
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=x", nil)
	if got := queryInt(req, "limit", 50); got != 25 {
		t.Errorf("limit = %d, want 25", got)
	}
	if got := queryInt(req, "bad", 50); got != 50 {
		t.Errorf("malformed = %d, want fallback 50", got)
	}
	if got := queryInt(req, "absent", 50); got != 50 {
		t.Errorf("absent = %d, want fallback 50", got)
	}
}
