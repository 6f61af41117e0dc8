package service

import (
	"context"
	"fmt"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/escrow"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/domain/jury"
	"github.com/verdikt-labs/verdikt/internal/domain/params"
	"github.com/verdikt-labs/verdikt/internal/domain/registry"
	"github.com/verdikt-labs/verdikt/internal/port/cache"
	"github.com/verdikt-labs/verdikt/internal/port/database"
	"github.com/verdikt-labs/verdikt/internal/port/identity"
	"github.com/verdikt-labs/verdikt/internal/port/messagequeue"
	"github.com/verdikt-labs/verdikt/internal/port/token"
	"github.com/verdikt-labs/verdikt/internal/port/validator"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ database.Store     = (*mockStore)(nil)
	_ token.Ledger       = (*mockLedger)(nil)
	_ messagequeue.Queue = (*mockQueue)(nil)
	_ cache.Cache        = (*mockCache)(nil)
	_ validator.Backend  = (*mockBackend)(nil)
	_ identity.Resolver  = (*mockResolver)(nil)
)

// mockStore is an in-memory implementation of database.Store mirroring the
// postgres adapter's guard semantics.
type mockStore struct {
	params       params.Params
	tasks        map[string]*escrow.Task
	requirements map[string][]escrow.ValidationRequirement
	aggregates   map[string]escrow.ValidationAggregate
	jurors       map[string]*jury.Juror
	consensus    map[string]*jury.Task
	votes        map[string][]jury.Vote
	requests     map[string]*registry.Request
	statuses     map[string]*registry.Status
	receipts     map[string][]registry.Receipt
	events       []event.Event
	taskNonce    uint64
	usedNonces   map[string]bool

	// Optional ledger: when set, transitions mirror the postgres
	// adapter's custody transfers so tests can observe fund conservation.
	ledger *mockLedger

	// Records of fund-moving calls, for assertions.
	lastPayout      escrow.Payout
	lastStakeReturn int64
	lastPool        string

	// Error hooks.
	getTaskErr       error
	castVoteErr      error
	challengeTaskErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		params:       params.Defaults("0xowner"),
		tasks:        map[string]*escrow.Task{},
		requirements: map[string][]escrow.ValidationRequirement{},
		aggregates:   map[string]escrow.ValidationAggregate{},
		jurors:       map[string]*jury.Juror{},
		consensus:    map[string]*jury.Task{},
		votes:        map[string][]jury.Vote{},
		requests:     map[string]*registry.Request{},
		statuses:     map[string]*registry.Status{},
		receipts:     map[string][]registry.Receipt{},
		usedNonces:   map[string]bool{},
	}
}

func (m *mockStore) record(ev event.Event) { m.events = append(m.events, ev) }

func (m *mockStore) EnsureParams(_ context.Context, seed params.Params) error { return nil }

func (m *mockStore) GetParams(_ context.Context) (*params.Params, error) {
	p := m.params
	return &p, nil
}

func (m *mockStore) UpdateParams(_ context.Context, p params.Params, ev event.Event) (*params.Params, error) {
	if p.Version != m.params.Version {
		return nil, domain.ErrConflict
	}
	p.Version++
	m.params = p
	m.record(ev)
	out := p
	return &out, nil
}

func (m *mockStore) NextTaskNonce(_ context.Context, _ string) (uint64, error) {
	m.taskNonce++
	return m.taskNonce, nil
}

func (m *mockStore) ConsumeSigningNonce(_ context.Context, account string, nonce uint64) error {
	key := fmt.Sprintf("%s:%d", account, nonce)
	if m.usedNonces[key] {
		return domain.ErrReplayedSignature
	}
	m.usedNonces[key] = true
	return nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*escrow.Task, error) {
	if m.getTaskErr != nil {
		return nil, m.getTaskErr
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) ListTasks(_ context.Context, f database.TaskFilter) ([]escrow.Task, error) {
	var out []escrow.Task
	for _, t := range m.tasks {
		if f.Funder != "" && t.Funder != f.Funder {
			continue
		}
		if f.Executor != "" && t.Executor != f.Executor {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// move mirrors the adapter's in-transaction custody transfer. A no-op
// unless the fixture wired a ledger in.
func (m *mockStore) move(tok, from, to string, amount int64) {
	if m.ledger == nil || amount <= 0 {
		return
	}
	m.ledger.balances[balKey(tok, from)] -= amount
	m.ledger.balances[balKey(tok, to)] += amount
}

func (m *mockStore) CreateTask(_ context.Context, t *escrow.Task, spendAllowance bool, ev event.Event) error {
	if m.ledger != nil && spendAllowance {
		m.ledger.allowances[allowKey(t.Token, t.Funder, token.CustodyAccount)] -= t.Reward
	}
	m.move(t.Token, t.Funder, token.CustodyAccount, t.Reward)
	cp := *t
	m.tasks[t.ID] = &cp
	m.record(ev)
	return nil
}

func (m *mockStore) guarded(id string, want []escrow.Status, mutate func(*escrow.Task)) (*escrow.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	allowed := false
	for _, s := range want {
		if t.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, domain.ErrInvalidState
	}
	mutate(t)
	cp := *t
	return &cp, nil
}

func (m *mockStore) AcceptTask(_ context.Context, id, executor string, ev event.Event) (*escrow.Task, error) {
	m.record(ev)
	return m.guarded(id, []escrow.Status{escrow.StatusOpen}, func(t *escrow.Task) {
		t.Executor = executor
		t.Status = escrow.StatusAccepted
	})
}

func (m *mockStore) AcceptTaskSigned(ctx context.Context, id, executor string, nonce uint64, ev event.Event) (*escrow.Task, error) {
	if err := m.ConsumeSigningNonce(ctx, executor, nonce); err != nil {
		return nil, err
	}
	return m.AcceptTask(ctx, id, executor, ev)
}

func (m *mockStore) AssignProvider(_ context.Context, id, provider string, fee int64, ev event.Event) (*escrow.Task, error) {
	m.record(ev)
	return m.guarded(id, []escrow.Status{escrow.StatusAccepted, escrow.StatusInProgress}, func(t *escrow.Task) {
		t.Provider = provider
		t.ProviderFee = fee
		t.Status = escrow.StatusInProgress
	})
}

func (m *mockStore) SubmitWork(_ context.Context, id, evidenceURI string, submittedAt time.Time, ev event.Event) (*escrow.Task, error) {
	m.record(ev)
	return m.guarded(id, []escrow.Status{escrow.StatusAccepted, escrow.StatusInProgress}, func(t *escrow.Task) {
		t.EvidenceURI = evidenceURI
		t.SubmittedAt = &submittedAt
		t.Status = escrow.StatusSubmitted
	})
}

func (m *mockStore) ChallengeTask(_ context.Context, id string, stake int64, consensusRef string, ev event.Event) (*escrow.Task, error) {
	if m.challengeTaskErr != nil {
		return nil, m.challengeTaskErr
	}
	m.record(ev)
	return m.guarded(id, []escrow.Status{escrow.StatusSubmitted}, func(t *escrow.Task) {
		m.move(t.Token, t.Funder, token.CustodyAccount, stake)
		t.ChallengeStake = stake
		t.ConsensusRef = consensusRef
		t.Status = escrow.StatusChallenged
	})
}

func (m *mockStore) FinalizeTask(_ context.Context, id string, pay escrow.Payout, validatorPool string, stakeReturn int64, ev event.Event) (*escrow.Task, error) {
	m.record(ev)
	m.lastPayout = pay
	m.lastStakeReturn = stakeReturn
	m.lastPool = validatorPool
	return m.guarded(id, []escrow.Status{escrow.StatusSubmitted, escrow.StatusChallenged}, func(t *escrow.Task) {
		m.move(t.Token, token.CustodyAccount, t.Executor, pay.Executor)
		if t.Provider != "" {
			m.move(t.Token, token.CustodyAccount, t.Provider, pay.Provider)
		}
		m.move(t.Token, token.CustodyAccount, validatorPool, pay.ValidatorPool)
		m.move(t.Token, token.CustodyAccount, t.Funder, stakeReturn)
		t.Status = escrow.StatusFinalized
	})
}

func (m *mockStore) RefundChallengedTask(_ context.Context, id string, ev event.Event) (*escrow.Task, error) {
	m.record(ev)
	return m.guarded(id, []escrow.Status{escrow.StatusChallenged}, func(t *escrow.Task) {
		m.move(t.Token, token.CustodyAccount, t.Funder, t.Reward)
		m.move(t.Token, token.CustodyAccount, t.Executor, t.ChallengeStake)
		t.Status = escrow.StatusRefunded
	})
}

func (m *mockStore) VoidChallenge(_ context.Context, id string, ev event.Event) (*escrow.Task, error) {
	m.record(ev)
	return m.guarded(id, []escrow.Status{escrow.StatusChallenged}, func(t *escrow.Task) {
		m.move(t.Token, token.CustodyAccount, t.Funder, t.ChallengeStake)
		m.lastStakeReturn = t.ChallengeStake
		t.Status = escrow.StatusSubmitted
		t.ChallengeStake = 0
		t.ConsensusRef = ""
	})
}

func (m *mockStore) CancelTask(_ context.Context, id string, ev event.Event) (*escrow.Task, error) {
	m.record(ev)
	return m.guarded(id, []escrow.Status{escrow.StatusOpen}, func(t *escrow.Task) {
		m.move(t.Token, token.CustodyAccount, t.Funder, t.Reward)
		t.Status = escrow.StatusRefunded
	})
}

func (m *mockStore) RefundExpiredTask(_ context.Context, id string, ev event.Event) (*escrow.Task, error) {
	m.record(ev)
	return m.guarded(id, []escrow.Status{escrow.StatusOpen, escrow.StatusAccepted}, func(t *escrow.Task) {
		m.move(t.Token, token.CustodyAccount, t.Funder, t.Reward)
		t.Status = escrow.StatusRefunded
	})
}

func aggKey(taskID, tag string) string { return taskID + "/" + tag }

func (m *mockStore) UpsertRequirement(_ context.Context, r escrow.ValidationRequirement, ev event.Event) error {
	m.record(ev)
	reqs := m.requirements[r.TaskID]
	for i := range reqs {
		if reqs[i].Tag == r.Tag {
			reqs[i] = r
			return nil
		}
	}
	m.requirements[r.TaskID] = append(reqs, r)
	return nil
}

func (m *mockStore) ListRequirements(_ context.Context, taskID string) ([]escrow.ValidationRequirement, error) {
	return m.requirements[taskID], nil
}

func (m *mockStore) AggregateValidation(_ context.Context, taskID, tag string) (*escrow.ValidationAggregate, error) {
	agg := m.aggregates[aggKey(taskID, tag)]
	return &agg, nil
}

func (m *mockStore) GetJuror(_ context.Context, account string) (*jury.Juror, error) {
	j, ok := m.jurors[account]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *mockStore) ListJurors(_ context.Context) ([]jury.Juror, error) {
	var out []jury.Juror
	for _, j := range m.jurors {
		out = append(out, *j)
	}
	return out, nil
}

func (m *mockStore) RegisterJuror(_ context.Context, j *jury.Juror, ev event.Event) error {
	if existing, ok := m.jurors[j.Account]; ok && existing.State != jury.JurorInactive {
		return domain.ErrAlreadyRegistered
	}
	cp := *j
	m.jurors[j.Account] = &cp
	m.record(ev)
	return nil
}

func (m *mockStore) BeginUnregisterJuror(_ context.Context, account string, since time.Time, ev event.Event) (*jury.Juror, error) {
	j, ok := m.jurors[account]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.State != jury.JurorActiveStaked {
		return nil, domain.ErrInvalidState
	}
	j.State = jury.JurorCooldownPending
	j.CooldownSince = &since
	m.record(ev)
	cp := *j
	return &cp, nil
}

func (m *mockStore) CompleteUnregisterJuror(_ context.Context, account string, ev event.Event) (*jury.Juror, error) {
	j, ok := m.jurors[account]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.State != jury.JurorCooldownPending {
		return nil, domain.ErrInvalidState
	}
	j.State = jury.JurorInactive
	j.Stake = 0
	j.CooldownSince = nil
	m.record(ev)
	cp := *j
	return &cp, nil
}

func (m *mockStore) CreateConsensusTask(_ context.Context, t *jury.Task, ev event.Event) error {
	cp := *t
	m.consensus[t.ID] = &cp
	m.record(ev)
	return nil
}

func (m *mockStore) GetConsensusTask(_ context.Context, id string) (*jury.Task, error) {
	t, ok := m.consensus[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) ListConsensusTasks(_ context.Context, f database.ConsensusFilter) ([]jury.Task, error) {
	var out []jury.Task
	for _, t := range m.consensus {
		if f.Creator != "" && t.Creator != f.Creator {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockStore) ListOverdueConsensusTasks(_ context.Context, now time.Time, _ int) ([]jury.Task, error) {
	var out []jury.Task
	for _, t := range m.consensus {
		if !t.Status.Final() && !now.Before(t.Deadline) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) CastVote(_ context.Context, v jury.Vote, ev event.Event) (*jury.Task, error) {
	if m.castVoteErr != nil {
		return nil, m.castVoteErr
	}
	t, ok := m.consensus[v.TaskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.Status != jury.TaskPending && t.Status != jury.TaskInProgress {
		return nil, domain.ErrInvalidState
	}
	for _, prev := range m.votes[v.TaskID] {
		if prev.Juror == v.Juror {
			return nil, domain.ErrAlreadyVoted
		}
	}
	m.votes[v.TaskID] = append(m.votes[v.TaskID], v)
	t.ApplyVote(v)
	m.record(ev)
	cp := *t
	return &cp, nil
}

func (m *mockStore) ListVotes(_ context.Context, taskID string) ([]jury.Vote, error) {
	return m.votes[taskID], nil
}

func (m *mockStore) FinalizeConsensusTask(_ context.Context, id string, finalScore int64, status jury.TaskStatus, ev event.Event) (*jury.Task, error) {
	t, ok := m.consensus[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.Status.Final() {
		return nil, domain.ErrInvalidState
	}
	t.FinalScore = int(finalScore)
	t.Status = status
	if t.RequestHash != "" {
		m.statuses[t.RequestHash] = &registry.Status{
			Hash:       t.RequestHash,
			Validator:  "jury",
			AgentID:    t.AgentID,
			Score:      t.FinalScore,
			Tag:        t.Category,
			LocatorURI: t.EvidenceURI,
		}
	}
	m.record(ev)
	cp := *t
	return &cp, nil
}

func (m *mockStore) CreateValidationRequest(_ context.Context, r *registry.Request, ev event.Event) error {
	if _, ok := m.requests[r.Hash]; ok {
		return nil
	}
	cp := *r
	m.requests[r.Hash] = &cp
	m.record(ev)
	return nil
}

func (m *mockStore) GetValidationRequest(_ context.Context, hash string) (*registry.Request, error) {
	r, ok := m.requests[hash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) ListValidationRequests(_ context.Context, taskRef string) ([]registry.Request, error) {
	var out []registry.Request
	for _, r := range m.requests {
		if r.TaskRef == taskRef {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockStore) RecordValidationResponse(_ context.Context, s registry.Status, ev event.Event) error {
	cp := s
	m.statuses[s.Hash] = &cp
	m.record(ev)
	return nil
}

func (m *mockStore) GetValidationStatus(_ context.Context, hash string) (*registry.Status, error) {
	s, ok := m.statuses[hash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) LinkReceipt(_ context.Context, rc registry.Receipt, ev event.Event) (bool, error) {
	for _, existing := range m.receipts[rc.Scope] {
		if existing.ID == rc.ID {
			return false, nil
		}
	}
	m.receipts[rc.Scope] = append(m.receipts[rc.Scope], rc)
	m.record(ev)
	return true, nil
}

func (m *mockStore) ListReceipts(_ context.Context, scope string) ([]registry.Receipt, error) {
	return m.receipts[scope], nil
}

func (m *mockStore) ListEvents(_ context.Context, entityKind, entityID string, _ int) ([]event.Event, error) {
	var out []event.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if string(ev.EntityKind) == entityKind && ev.EntityID == entityID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// mockLedger is an in-memory token ledger.
type mockLedger struct {
	balances   map[string]int64
	allowances map[string]int64
	nonces     map[string]uint64
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		balances:   map[string]int64{},
		allowances: map[string]int64{},
		nonces:     map[string]uint64{},
	}
}

func balKey(tok, account string) string          { return tok + "/" + account }
func allowKey(tok, owner, spender string) string { return tok + "/" + owner + "/" + spender }

func (m *mockLedger) BalanceOf(_ context.Context, tok, account string) (int64, error) {
	return m.balances[balKey(tok, account)], nil
}

func (m *mockLedger) Allowance(_ context.Context, tok, owner, spender string) (int64, error) {
	return m.allowances[allowKey(tok, owner, spender)], nil
}

func (m *mockLedger) Transfer(_ context.Context, tok, from, to string, amount int64) error {
	if amount <= 0 {
		return domain.ErrValidation
	}
	if m.balances[balKey(tok, from)] < amount {
		return domain.ErrInsufficientFunds
	}
	m.balances[balKey(tok, from)] -= amount
	m.balances[balKey(tok, to)] += amount
	return nil
}

func (m *mockLedger) Approve(_ context.Context, tok, owner, spender string, amount int64) error {
	m.allowances[allowKey(tok, owner, spender)] = amount
	return nil
}

func (m *mockLedger) TransferFrom(ctx context.Context, tok, spender, owner, to string, amount int64) error {
	key := allowKey(tok, owner, spender)
	if m.allowances[key] < amount {
		return domain.ErrInsufficientFunds
	}
	if err := m.Transfer(ctx, tok, owner, to, amount); err != nil {
		return err
	}
	m.allowances[key] -= amount
	return nil
}

func (m *mockLedger) PermitNonce(_ context.Context, tok, owner string) (uint64, error) {
	return m.nonces[balKey(tok, owner)], nil
}

func (m *mockLedger) ApplyPermit(_ context.Context, tok, owner, spender string, amount int64, nonce uint64) error {
	key := balKey(tok, owner)
	if m.nonces[key] != nonce {
		return domain.ErrReplayedSignature
	}
	m.nonces[key]++
	m.allowances[allowKey(tok, owner, spender)] = amount
	return nil
}

func (m *mockLedger) Mint(_ context.Context, tok, to string, amount int64) error {
	m.balances[balKey(tok, to)] += amount
	return nil
}

// mockQueue records published subjects.
type mockQueue struct {
	published []string
}

func (m *mockQueue) Publish(_ context.Context, subject string, _ []byte) error {
	m.published = append(m.published, subject)
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) count(subject string) int {
	n := 0
	for _, s := range m.published {
		if s == subject {
			n++
		}
	}
	return n
}

// mockCache is a TTL-less in-memory cache.
type mockCache struct {
	entries map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{entries: map[string][]byte{}} }

func (m *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := m.entries[key]
	return b, ok, nil
}

func (m *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.entries[key] = value
	return nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

func (m *mockCache) Close() {}

// mockBackend is a canned validation backend.
type mockBackend struct {
	openRef string
	openErr error
	opened  []jury.CreateRequest
	tasks   map[string]*jury.Task
	getErr  error
}

func (m *mockBackend) OpenTask(_ context.Context, req jury.CreateRequest) (string, error) {
	if m.openErr != nil {
		return "", m.openErr
	}
	m.opened = append(m.opened, req)
	return m.openRef, nil
}

func (m *mockBackend) GetTask(_ context.Context, ref string) (*jury.Task, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	t, ok := m.tasks[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

// mockResolver is a canned identity registry.
type mockResolver struct {
	owners   map[uint64]string
	revoked  map[uint64]bool
	ownerErr error
}

func (m *mockResolver) OwnerOf(_ context.Context, agentID uint64) (string, error) {
	if m.ownerErr != nil {
		return "", m.ownerErr
	}
	return m.owners[agentID], nil
}

func (m *mockResolver) IsRevoked(_ context.Context, agentID uint64) (bool, error) {
	return m.revoked[agentID], nil
}
