package otel

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/verdikt-labs/verdikt/internal/port/messagequeue"
)

// HandleQueueMessage records metrics from the protocol event stream. It
// implements messagequeue.Handler so the instruments see every transition
// regardless of which code path performed it. Malformed payloads are counted
// without their histogram samples rather than rejected, since a Nak would
// redeliver a message that will never parse.
func (m *Metrics) HandleQueueMessage(ctx context.Context, subject string, data []byte) error {
	switch subject {
	case messagequeue.SubjectTaskCreated:
		m.TasksCreated.Add(ctx, 1)
	case messagequeue.SubjectTaskChallenged:
		m.Challenges.Add(ctx, 1)
	case messagequeue.SubjectVoteCast:
		m.VotesCast.Add(ctx, 1)
	case messagequeue.SubjectTaskFinalized:
		m.TasksFinalized.Add(ctx, 1)
		m.recordSettlement(ctx, data, "finalized")
	case messagequeue.SubjectTaskRefunded:
		m.TasksRefunded.Add(ctx, 1)
		m.recordSettlement(ctx, data, "refunded")
	}
	return nil
}

func (m *Metrics) recordSettlement(ctx context.Context, data []byte, outcome string) {
	var t struct {
		Reward    int64     `json:"reward"`
		Tag       string    `json:"tag"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("tag", t.Tag),
	)
	m.PayoutAmount.Record(ctx, t.Reward, attrs)
	if !t.CreatedAt.IsZero() && t.UpdatedAt.After(t.CreatedAt) {
		m.SettleDuration.Record(ctx, t.UpdatedAt.Sub(t.CreatedAt).Seconds(), attrs)
	}
}
