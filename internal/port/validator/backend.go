// Package validator defines the narrow capability interface a validation
// backend must expose. The built-in jury consensus engine is the one fixed
// implementation today; the interface stays small (open a task, read its
// result) so other backends can be added without touching the escrow.
package validator

import (
	"context"

	"github.com/verdikt-labs/verdikt/internal/domain/jury"
)

// Backend is the capability interface consumed by the validation registry
// and the escrow's challenge-resolution path.
type Backend interface {
	// OpenTask opens a consensus task for the given request and returns
	// its reference.
	OpenTask(ctx context.Context, req jury.CreateRequest) (string, error)

	// GetTask returns the consensus task for a reference. Escrow reads
	// this to confirm a linked result is final before resolving a
	// challenge.
	GetTask(ctx context.Context, ref string) (*jury.Task, error)
}
