package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/AltairaLabs/DubKit/types"
)

// MemoryBackend is an in-process Backend: a binary heap ordered by priority
// then enqueue sequence. Queued envelopes do not survive a restart.
type MemoryBackend struct {
	mu     sync.Mutex
	heap   envelopeHeap
	seq    uint64
	notify chan struct{}
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds an envelope and wakes one waiting consumer.
func (b *MemoryBackend) Enqueue(_ context.Context, env *types.JobEnvelope) error {
	b.mu.Lock()
	b.seq++
	heap.Push(&b.heap, &queuedEnvelope{env: env, seq: b.seq})
	b.mu.Unlock()

	b.signal()
	return nil
}

// Dequeue pops the highest-priority envelope, blocking until one arrives.
func (b *MemoryBackend) Dequeue(ctx context.Context) (*types.JobEnvelope, error) {
	for {
		b.mu.Lock()
		if b.heap.Len() > 0 {
			item := heap.Pop(&b.heap).(*queuedEnvelope)
			remaining := b.heap.Len()
			b.mu.Unlock()
			if remaining > 0 {
				// Another consumer may be waiting on the same token.
				b.signal()
			}
			return item.env, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}

// Len returns the number of waiting envelopes.
func (b *MemoryBackend) Len(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.heap.Len(), nil
}

// Close is a no-op for the memory backend.
func (b *MemoryBackend) Close() error { return nil }

func (b *MemoryBackend) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// queuedEnvelope is one heap entry; seq breaks priority ties FIFO.
type queuedEnvelope struct {
	env *types.JobEnvelope
	seq uint64
}

type envelopeHeap []*queuedEnvelope

func (h envelopeHeap) Len() int { return len(h) }

func (h envelopeHeap) Less(i, j int) bool {
	if h[i].env.Priority != h[j].env.Priority {
		return h[i].env.Priority < h[j].env.Priority
	}
	return h[i].seq < h[j].seq
}

func (h envelopeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *envelopeHeap) Push(x any) { *h = append(*h, x.(*queuedEnvelope)) }

func (h *envelopeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
