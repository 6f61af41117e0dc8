package jury

import (
	"errors"
	"testing"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCanRegister(t *testing.T) {
	var none *Juror
	if err := none.CanRegister(100, 100); err != nil {
		t.Errorf("fresh registration rejected: %v", err)
	}
	if err := none.CanRegister(99, 100); !errors.Is(err, domain.ErrInsufficientStake) {
		t.Errorf("understaked registration: got %v, want ErrInsufficientStake", err)
	}

	active := &Juror{Account: "0xa", Stake: 100, State: JurorActiveStaked}
	if err := active.CanRegister(100, 100); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Errorf("double registration: got %v, want ErrAlreadyRegistered", err)
	}

	// An account that fully unstaked earlier may register again.
	lapsed := &Juror{Account: "0xa", State: JurorInactive}
	if err := lapsed.CanRegister(100, 100); err != nil {
		t.Errorf("re-registration after unstake rejected: %v", err)
	}
}

func TestUnregisterTwoPhase(t *testing.T) {
	cooldown := 7 * 24 * time.Hour
	j := &Juror{Account: "0xa", Stake: 100, State: JurorActiveStaked}

	if err := j.BeginUnregister(); err != nil {
		t.Fatalf("begin unregister rejected: %v", err)
	}

	j.State = JurorCooldownPending
	since := testNow
	j.CooldownSince = &since

	if err := j.BeginUnregister(); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second begin: got %v, want ErrInvalidState", err)
	}
	if err := j.CompleteUnregister(cooldown, testNow.Add(cooldown-time.Second)); !errors.Is(err, domain.ErrCooldownActive) {
		t.Errorf("early complete: got %v, want ErrCooldownActive", err)
	}
	if err := j.CompleteUnregister(cooldown, testNow.Add(cooldown)); err != nil {
		t.Errorf("complete at cooldown boundary rejected: %v", err)
	}
}

func TestCompleteUnregisterWithoutBegin(t *testing.T) {
	j := &Juror{Account: "0xa", Stake: 100, State: JurorActiveStaked}
	if err := j.CompleteUnregister(time.Hour, testNow); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

func TestJurorCanVote(t *testing.T) {
	var none *Juror
	if err := none.CanVote(); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("unregistered vote: got %v, want ErrUnauthorized", err)
	}
	if err := (&Juror{State: JurorInactive}).CanVote(); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("inactive vote: got %v, want ErrUnauthorized", err)
	}
	if err := (&Juror{State: JurorActiveStaked}).CanVote(); err != nil {
		t.Errorf("active vote rejected: %v", err)
	}
	// The stake stays locked during cooldown, so the vote still counts.
	if err := (&Juror{State: JurorCooldownPending}).CanVote(); err != nil {
		t.Errorf("cooldown vote rejected: %v", err)
	}
}
