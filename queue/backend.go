package queue

import (
	"context"

	"github.com/AltairaLabs/DubKit/types"
)

// Backend stores queued job envelopes in priority order. Implementations are
// safe for concurrent producers and consumers.
type Backend interface {
	// Enqueue adds an envelope. Lower Priority dequeues sooner; envelopes of
	// equal priority dequeue in enqueue order.
	Enqueue(ctx context.Context, env *types.JobEnvelope) error

	// Dequeue blocks until an envelope is available or ctx ends.
	Dequeue(ctx context.Context) (*types.JobEnvelope, error)

	// Len returns the number of waiting envelopes.
	Len(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
