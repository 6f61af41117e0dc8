// Package event defines the append-only protocol event records consumed by
// the external indexer and orchestration collaborators.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of state change an event records.
type Type string

const (
	TaskCreated      Type = "task.created"
	TaskAccepted     Type = "task.accepted"
	TaskProviderSet  Type = "task.provider_assigned"
	TaskSubmitted    Type = "task.submitted"
	TaskChallenged   Type = "task.challenged"
	TaskFinalized    Type = "task.finalized"
	TaskRefunded     Type = "task.refunded"
	JurorRegistered  Type = "juror.registered"
	JurorCooldown    Type = "juror.cooldown_started"
	JurorUnstaked    Type = "juror.unstaked"
	VoteCast         Type = "jury.vote_cast"
	ConsensusFinal   Type = "jury.finalized"
	ValidationOpened Type = "validation.requested"
	ValidationScored Type = "validation.responded"
	ReceiptLinked    Type = "receipt.linked"
	ParamsUpdated    Type = "params.updated"
)

// EntityKind classifies what an event's EntityID refers to.
type EntityKind string

const (
	KindTask          EntityKind = "task"
	KindConsensusTask EntityKind = "consensus_task"
	KindJuror         EntityKind = "juror"
	KindRequest       EntityKind = "validation_request"
	KindParams        EntityKind = "params"
)

// Event is one append-only record of a committed state change. Events are
// written in the same transaction as the change itself, so the log is an
// exact, gap-free account of every transition.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	EntityKind EntityKind      `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// New builds an event with a JSON-marshalled payload. Marshal failures are
// swallowed into an empty payload; the event itself must never be lost.
func New(typ Type, kind EntityKind, entityID, actor string, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return Event{
		Type:       typ,
		EntityKind: kind,
		EntityID:   entityID,
		Actor:      actor,
		Payload:    raw,
	}
}
