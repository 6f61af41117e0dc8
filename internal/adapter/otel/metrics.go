package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "verdikt"

// Metrics holds the protocol metric instruments.
type Metrics struct {
	TasksCreated   metric.Int64Counter
	TasksFinalized metric.Int64Counter
	TasksRefunded  metric.Int64Counter
	Challenges     metric.Int64Counter
	VotesCast      metric.Int64Counter
	PayoutAmount   metric.Int64Histogram
	SettleDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksCreated, err = meter.Int64Counter("verdikt.tasks.created",
		metric.WithDescription("Number of escrow tasks created"))
	if err != nil {
		return nil, err
	}

	m.TasksFinalized, err = meter.Int64Counter("verdikt.tasks.finalized",
		metric.WithDescription("Number of escrow tasks finalized with payout"))
	if err != nil {
		return nil, err
	}

	m.TasksRefunded, err = meter.Int64Counter("verdikt.tasks.refunded",
		metric.WithDescription("Number of escrow tasks refunded to the funder"))
	if err != nil {
		return nil, err
	}

	m.Challenges, err = meter.Int64Counter("verdikt.tasks.challenged",
		metric.WithDescription("Number of challenges opened against submitted work"))
	if err != nil {
		return nil, err
	}

	m.VotesCast, err = meter.Int64Counter("verdikt.jury.votes",
		metric.WithDescription("Number of juror votes cast"))
	if err != nil {
		return nil, err
	}

	m.PayoutAmount, err = meter.Int64Histogram("verdikt.payout.amount",
		metric.WithDescription("Reward amount distributed per finalized task"))
	if err != nil {
		return nil, err
	}

	m.SettleDuration, err = meter.Float64Histogram("verdikt.task.settle_seconds",
		metric.WithDescription("Time from task creation to terminal state in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
