// Package identity defines the agent-identity lookup port.
package identity

import "context"

// Resolver maps opaque numeric agent identifiers to their controlling
// accounts. It backs the jury engine's conflict-of-interest checks. A nil
// Resolver means no identity registry is configured, in which case
// ownership checks are skipped rather than failing closed.
type Resolver interface {
	// OwnerOf returns the controlling account of an agent identifier, or
	// an empty string when the identifier is unknown.
	OwnerOf(ctx context.Context, agentID uint64) (string, error)

	// IsRevoked reports whether the agent identifier has been revoked.
	IsRevoked(ctx context.Context, agentID uint64) (bool, error)
}
