package status

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/AltairaLabs/DubKit/events"
	"github.com/AltairaLabs/DubKit/logger"
	metrics "github.com/AltairaLabs/DubKit/metrics/prometheus"
	"github.com/AltairaLabs/DubKit/types"
)

const (
	// subscriberBuffer is the channel buffer size for broadcast subscribers.
	subscriberBuffer = 64

	// defaultLinger keeps a terminal job's stream open briefly so slow
	// clients catch the final message.
	defaultLinger = 5 * time.Second
)

// SnapshotSource provides the authoritative job snapshot, re-read on every
// event so subscribers never see state older than the queue's.
type SnapshotSource interface {
	Get(jobID string) (types.JobSnapshot, error)
}

// Publisher fans job events out to per-job subscriber sets.
type Publisher struct {
	source SnapshotSource
	linger time.Duration

	mu   sync.Mutex
	subs map[string]*jobBroadcaster

	// now is swapped by tests.
	now func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLinger overrides the post-terminal linger window.
func WithLinger(d time.Duration) Option {
	return func(p *Publisher) {
		p.linger = d
	}
}

// NewPublisher creates a Publisher reading snapshots from source and
// listening to bus.
func NewPublisher(source SnapshotSource, bus *events.Bus, opts ...Option) *Publisher {
	p := &Publisher{
		source: source,
		linger: defaultLinger,
		subs:   make(map[string]*jobBroadcaster),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if bus != nil {
		bus.SubscribeAll(p.handleEvent)
	}
	return p
}

// Subscribe attaches to a job's stream. The current snapshot is delivered
// first, then every later event. The returned cancel function detaches the
// subscriber; the channel closes after the job's terminal linger or on
// cancel. Unknown and expired jobs return types.ErrNotFound.
func (p *Publisher) Subscribe(jobID string) (<-chan []byte, func(), error) {
	snap, err := p.source.Get(jobID)
	if err != nil {
		return nil, nil, err
	}

	b := p.getBroadcaster(jobID)
	ch := b.subscribe()
	metrics.SubscriberAdded()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.unsubscribe(ch)
			metrics.SubscriberRemoved()
		})
	}

	// Seed the stream with the current snapshot.
	if payload, err := json.Marshal(NewMessage(snap, p.now())); err == nil {
		b.deliver(ch, payload)
	}

	if snap.State.Terminal() {
		p.scheduleClose(jobID, b)
	}
	return ch, cancel, nil
}

// handleEvent re-derives the snapshot and broadcasts it to the job's
// subscribers. Bus delivery is synchronous, so this must stay fast: encode,
// hand to buffered channels, return.
func (p *Publisher) handleEvent(event *events.Event) {
	snap, err := p.source.Get(event.JobID)
	if err != nil {
		// Expired between event and read; fall back to the event's snapshot.
		snap = event.Snapshot
	}

	payload, err := json.Marshal(NewMessage(snap, p.now()))
	if err != nil {
		logger.Error("Failed to encode status message", "job_id", event.JobID, "error", err)
		return
	}

	b := p.getBroadcaster(event.JobID)
	b.send(payload)

	if event.Type.Terminal() {
		p.scheduleClose(event.JobID, b)
	}
}

// scheduleClose closes the job's broadcaster after the linger window.
func (p *Publisher) scheduleClose(jobID string, b *jobBroadcaster) {
	if !b.markClosing() {
		return
	}
	time.AfterFunc(p.linger, func() {
		b.close()
		p.mu.Lock()
		delete(p.subs, jobID)
		p.mu.Unlock()
	})
}

func (p *Publisher) getBroadcaster(jobID string) *jobBroadcaster {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.subs[jobID]
	if !ok {
		b = &jobBroadcaster{}
		p.subs[jobID] = b
	}
	return b
}

// jobBroadcaster fans payloads out to the subscribers of a single job.
type jobBroadcaster struct {
	mu      sync.Mutex
	subs    []chan []byte
	closing bool
	closed  bool
}

// subscribe adds a new subscriber and returns its channel.
func (b *jobBroadcaster) subscribe() chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// unsubscribe removes a subscriber channel.
func (b *jobBroadcaster) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// send broadcasts a payload to all subscribers. Full subscriber buffers
// drop the payload so one stalled client cannot block the rest.
func (b *jobBroadcaster) send(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// deliver sends a payload to one subscriber only (the subscribe-time
// snapshot).
func (b *jobBroadcaster) deliver(ch chan []byte, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case ch <- payload:
	default:
	}
}

// markClosing reports whether this call initiated the close.
func (b *jobBroadcaster) markClosing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return false
	}
	b.closing = true
	return true
}

// close closes every subscriber channel.
func (b *jobBroadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
