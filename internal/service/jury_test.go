package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/jury"
	"github.com/verdikt-labs/verdikt/internal/port/messagequeue"
)

type juryFixture struct {
	svc      *JuryService
	store    *mockStore
	queue    *mockQueue
	resolver *mockResolver
}

func newJuryFixture() *juryFixture {
	store := newMockStore()
	queue := &mockQueue{}
	resolver := &mockResolver{owners: map[uint64]string{}, revoked: map[uint64]bool{}}
	svc := NewJuryService(store, queue, resolver)
	svc.now = func() time.Time { return fixedNow }
	return &juryFixture{svc: svc, store: store, queue: queue, resolver: resolver}
}

func (f *juryFixture) seedJurors(accounts ...string) {
	for _, a := range accounts {
		f.store.jurors[a] = &jury.Juror{Account: a, Stake: 200, State: jury.JurorActiveStaked}
	}
}

func (f *juryFixture) seedConsensusTask() *jury.Task {
	t := &jury.Task{
		ID:           "ct-1",
		Creator:      "0xchallenger",
		MinJurors:    3,
		ThresholdBps: 6600,
		Deadline:     fixedNow.Add(48 * time.Hour),
		Status:       jury.TaskPending,
	}
	f.store.consensus[t.ID] = t
	return t
}

func TestJuryRegister(t *testing.T) {
	f := newJuryFixture()

	j, err := f.svc.Register(context.Background(), "0xjuror", 150)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if j.State != jury.JurorActiveStaked || j.Stake != 150 {
		t.Errorf("got %s/%d, want active_staked/150", j.State, j.Stake)
	}
	if _, err := f.svc.Register(context.Background(), "0xjuror", 150); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Errorf("double register: got %v, want ErrAlreadyRegistered", err)
	}
}

func TestJuryRegisterBelowMinStake(t *testing.T) {
	f := newJuryFixture()
	if _, err := f.svc.Register(context.Background(), "0xjuror", 99); !errors.Is(err, domain.ErrInsufficientStake) {
		t.Errorf("got %v, want ErrInsufficientStake", err)
	}
}

func TestJuryUnregisterTwoPhase(t *testing.T) {
	f := newJuryFixture()
	f.seedJurors("0xjuror")

	j, err := f.svc.BeginUnregister(context.Background(), "0xjuror")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if j.State != jury.JurorCooldownPending || j.CooldownSince == nil {
		t.Fatalf("cooldown not started: %+v", j)
	}

	// A week must pass before the stake unlocks.
	if _, err := f.svc.CompleteUnregister(context.Background(), "0xjuror"); !errors.Is(err, domain.ErrCooldownActive) {
		t.Fatalf("early complete: got %v, want ErrCooldownActive", err)
	}

	f.svc.now = func() time.Time { return fixedNow.Add(7*24*time.Hour + time.Second) }
	done, err := f.svc.CompleteUnregister(context.Background(), "0xjuror")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if done.State != jury.JurorInactive || done.Stake != 0 {
		t.Errorf("got %s/%d, want inactive with stake released", done.State, done.Stake)
	}

	// An inactive juror may stake again.
	if _, err := f.svc.Register(context.Background(), "0xjuror", 200); err != nil {
		t.Errorf("re-register failed: %v", err)
	}
}

func TestJuryOpenFillsDefaults(t *testing.T) {
	f := newJuryFixture()
	req := jury.CreateRequest{EvidenceURI: "ipfs://evidence", Category: "vision", Deadline: fixedNow.Add(time.Hour)}

	opened, err := f.svc.Open(context.Background(), "0xchallenger", req)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if opened.MinJurors != 3 || opened.ThresholdBps != 6600 {
		t.Errorf("got %d/%d, want protocol defaults 3/6600", opened.MinJurors, opened.ThresholdBps)
	}
	if opened.Creator != "0xchallenger" || opened.Status != jury.TaskPending {
		t.Errorf("unexpected task: %+v", opened)
	}
}

func TestJuryOpenRejectsRevokedAgent(t *testing.T) {
	f := newJuryFixture()
	f.resolver.revoked[7] = true
	req := jury.CreateRequest{AgentID: 7, EvidenceURI: "ipfs://evidence", Deadline: fixedNow.Add(time.Hour)}

	if _, err := f.svc.Open(context.Background(), "0xchallenger", req); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("got %v, want ErrValidation for revoked agent", err)
	}
}

func TestJuryVote(t *testing.T) {
	f := newJuryFixture()
	f.seedJurors("0xa", "0xb")
	f.seedConsensusTask()

	updated, err := f.svc.Vote(context.Background(), "0xa", "ct-1", 80, "looks right")
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if updated.VoteCount != 1 || updated.Status != jury.TaskInProgress {
		t.Errorf("got count %d status %s, want 1/in_progress", updated.VoteCount, updated.Status)
	}
	if f.queue.count(messagequeue.SubjectVoteCast) != 1 {
		t.Error("vote.cast not published")
	}
	if _, err := f.svc.Vote(context.Background(), "0xa", "ct-1", 60, ""); !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Errorf("second vote: got %v, want ErrAlreadyVoted", err)
	}
}

func TestJuryVoteRequiresActiveJuror(t *testing.T) {
	f := newJuryFixture()
	f.seedConsensusTask()
	if _, err := f.svc.Vote(context.Background(), "0xstranger", "ct-1", 80, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestJuryVoteConflictOfInterest(t *testing.T) {
	f := newJuryFixture()
	f.seedJurors("0xchallenger", "0xowner")
	ct := f.seedConsensusTask()
	ct.AgentID = 7
	f.resolver.owners[7] = "0xowner"

	if _, err := f.svc.Vote(context.Background(), "0xchallenger", "ct-1", 80, ""); !errors.Is(err, domain.ErrConflictOfInterest) {
		t.Errorf("creator vote: got %v, want ErrConflictOfInterest", err)
	}
	if _, err := f.svc.Vote(context.Background(), "0xowner", "ct-1", 80, ""); !errors.Is(err, domain.ErrConflictOfInterest) {
		t.Errorf("agent owner vote: got %v, want ErrConflictOfInterest", err)
	}
}

func TestJuryVoteRegistryOutageSkipsOwnershipCheck(t *testing.T) {
	// An unreachable identity registry must not halt voting: the ownership
	// check is skipped and the vote lands.
	f := newJuryFixture()
	f.seedJurors("0xa")
	ct := f.seedConsensusTask()
	ct.AgentID = 7
	f.resolver.ownerErr = errors.New("identity registry unreachable")

	updated, err := f.svc.Vote(context.Background(), "0xa", "ct-1", 80, "")
	if err != nil {
		t.Fatalf("vote failed during registry outage: %v", err)
	}
	if updated.VoteCount != 1 {
		t.Errorf("vote count = %d, want 1", updated.VoteCount)
	}
}

func TestJuryAutoFinalizeAtQuorum(t *testing.T) {
	f := newJuryFixture()
	f.seedJurors("0xa", "0xb", "0xc")
	f.seedConsensusTask()

	if _, err := f.svc.Vote(context.Background(), "0xa", "ct-1", 80, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Vote(context.Background(), "0xb", "ct-1", 90, ""); err != nil {
		t.Fatal(err)
	}
	final, err := f.svc.Vote(context.Background(), "0xc", "ct-1", 85, "")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != jury.TaskCompleted || final.FinalScore != 85 {
		t.Errorf("got %s/%d, want completed/85", final.Status, final.FinalScore)
	}
	if f.queue.count(messagequeue.SubjectConsensusFinal) != 1 {
		t.Error("consensus.final not published")
	}
}

func TestJuryFinalizeAfterDeadline(t *testing.T) {
	f := newJuryFixture()
	f.seedJurors("0xa")
	f.seedConsensusTask()
	if _, err := f.svc.Vote(context.Background(), "0xa", "ct-1", 20, ""); err != nil {
		t.Fatal(err)
	}

	// One vote is below quorum, so only the deadline can settle it.
	if _, err := f.svc.Finalize(context.Background(), "0xanyone", "ct-1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("pre-deadline: got %v, want ErrInvalidState", err)
	}

	f.svc.now = func() time.Time { return fixedNow.Add(49 * time.Hour) }
	final, err := f.svc.Finalize(context.Background(), "0xanyone", "ct-1")
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if final.Status != jury.TaskDisputed {
		t.Errorf("status = %s, want disputed below threshold", final.Status)
	}
}

func TestJurySweepOverdue(t *testing.T) {
	f := newJuryFixture()
	f.seedJurors("0xa")
	f.seedConsensusTask()
	if _, err := f.svc.Vote(context.Background(), "0xa", "ct-1", 90, ""); err != nil {
		t.Fatal(err)
	}
	// A second task with no votes at all.
	f.store.consensus["ct-2"] = &jury.Task{
		ID: "ct-2", Creator: "0xchallenger", MinJurors: 3, ThresholdBps: 6600,
		Deadline: fixedNow.Add(time.Hour), Status: jury.TaskPending,
	}

	f.svc.now = func() time.Time { return fixedNow.Add(72 * time.Hour) }
	settled, err := f.svc.SweepOverdue(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if settled != 2 {
		t.Fatalf("settled = %d, want 2", settled)
	}
	if got := f.store.consensus["ct-2"].Status; got != jury.TaskCancelled {
		t.Errorf("voteless task status = %s, want cancelled", got)
	}
	if got := f.store.consensus["ct-1"].Status; got != jury.TaskCompleted {
		t.Errorf("single positive vote status = %s, want completed", got)
	}
}

func TestJuryFinalizeWritesValidationStatus(t *testing.T) {
	f := newJuryFixture()
	f.seedJurors("0xa", "0xb", "0xc")
	ct := f.seedConsensusTask()
	ct.RequestHash = "abc123"
	ct.Category = "vision"

	for i, juror := range []string{"0xa", "0xb", "0xc"} {
		if _, err := f.svc.Vote(context.Background(), juror, "ct-1", 70+i, ""); err != nil {
			t.Fatal(err)
		}
	}
	st, ok := f.store.statuses["abc123"]
	if !ok {
		t.Fatal("no validation status recorded for the linked request")
	}
	if st.Score != 71 || st.Tag != "vision" {
		t.Errorf("got score %d tag %s, want 71/vision", st.Score, st.Tag)
	}
}
