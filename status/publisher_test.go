package status

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/DubKit/events"
	"github.com/AltairaLabs/DubKit/types"
)

// fakeSource serves snapshots from a guarded map.
type fakeSource struct {
	mu    sync.Mutex
	snaps map[string]types.JobSnapshot
}

func newFakeSource() *fakeSource {
	return &fakeSource{snaps: make(map[string]types.JobSnapshot)}
}

func (s *fakeSource) set(snap types.JobSnapshot) {
	s.mu.Lock()
	s.snaps[snap.JobID] = snap
	s.mu.Unlock()
}

func (s *fakeSource) Get(jobID string) (types.JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[jobID]
	if !ok {
		return types.JobSnapshot{}, types.ErrNotFound
	}
	return snap, nil
}

func decode(t *testing.T, payload []byte) Message {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestPublisher_SubscribeDeliversSnapshotThenEvents(t *testing.T) {
	source := newFakeSource()
	bus := events.NewBus()
	p := NewPublisher(source, bus, WithLinger(10*time.Millisecond))

	source.set(types.JobSnapshot{JobID: "job-1", State: types.StateProcessing, Progress: 10})

	ch, cancel, err := p.Subscribe("job-1")
	require.NoError(t, err)
	defer cancel()

	first := decode(t, <-ch)
	assert.Equal(t, 10, first.Progress)
	assert.Equal(t, StageSpeech, first.ProcessingStage)

	// The publisher re-reads the source, so the message carries the fresher
	// snapshot, not the event's.
	source.set(types.JobSnapshot{JobID: "job-1", State: types.StateProcessing, Progress: 60})
	bus.Publish(&events.Event{JobID: "job-1", Type: events.TypeProgress, Timestamp: time.Now()})

	second := decode(t, <-ch)
	assert.Equal(t, 60, second.Progress)
	assert.Equal(t, StageCombining, second.ProcessingStage)
}

func TestPublisher_TerminalClosesAfterLinger(t *testing.T) {
	source := newFakeSource()
	bus := events.NewBus()
	p := NewPublisher(source, bus, WithLinger(10*time.Millisecond))

	source.set(types.JobSnapshot{JobID: "job-1", State: types.StateProcessing, Progress: 90})
	ch, cancel, err := p.Subscribe("job-1")
	require.NoError(t, err)
	defer cancel()
	<-ch // snapshot

	source.set(types.JobSnapshot{
		JobID: "job-1", State: types.StateCompleted, Progress: 100, Result: "file:///out.wav",
	})
	bus.Publish(&events.Event{JobID: "job-1", Type: events.TypeCompleted, Timestamp: time.Now()})

	final := decode(t, <-ch)
	assert.Equal(t, types.StateCompleted, final.State)
	assert.Equal(t, "file:///out.wav", final.Result)
	assert.Equal(t, StageComplete, final.ProcessingStage)

	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should close after linger")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after terminal event")
	}
}

func TestPublisher_SubscribeUnknownJob(t *testing.T) {
	p := NewPublisher(newFakeSource(), events.NewBus())
	_, _, err := p.Subscribe("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPublisher_SlowSubscriberDropsNotBlocks(t *testing.T) {
	source := newFakeSource()
	bus := events.NewBus()
	p := NewPublisher(source, bus, WithLinger(time.Minute))

	source.set(types.JobSnapshot{JobID: "job-1", State: types.StateProcessing, Progress: 1})
	_, cancel, err := p.Subscribe("job-1")
	require.NoError(t, err)
	defer cancel()

	// Never read: the buffer fills and further sends drop without blocking
	// the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(&events.Event{JobID: "job-1", Type: events.TypeProgress, Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestStageLabel(t *testing.T) {
	tests := []struct {
		state    types.JobState
		progress int
		want     string
	}{
		{types.StateQueued, 0, StageQueued},
		{types.StateProcessing, 0, StageStarting},
		{types.StateProcessing, 10, StageSpeech},
		{types.StateProcessing, 20, StageSpeech},
		{types.StateProcessing, 25, StageSeparating},
		{types.StateProcessing, 50, StageSeparating},
		{types.StateProcessing, 65, StageCombining},
		{types.StateProcessing, 95, StageFinalizing},
		{types.StateCompleted, 100, StageComplete},
		{types.StateFailed, 40, StageFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StageLabel(tt.state, tt.progress),
			"state %s progress %d", tt.state, tt.progress)
	}
}

func TestEstimateRemaining(t *testing.T) {
	now := time.Now()
	started := now.Add(-30 * time.Second)

	snap := types.JobSnapshot{State: types.StateProcessing, Progress: 50, StartedAt: &started}
	assert.Equal(t, int64(30), EstimateRemaining(snap, now))

	snap.Progress = 0
	assert.Equal(t, int64(-1), EstimateRemaining(snap, now))

	snap.State = types.StateCompleted
	assert.Equal(t, int64(0), EstimateRemaining(snap, now))

	noStart := types.JobSnapshot{State: types.StateProcessing, Progress: 40}
	assert.Equal(t, int64(-1), EstimateRemaining(noStart, now))
}

func TestPublisher_ServeSSE(t *testing.T) {
	source := newFakeSource()
	bus := events.NewBus()
	p := NewPublisher(source, bus, WithLinger(10*time.Millisecond))

	source.set(types.JobSnapshot{JobID: "job-1", State: types.StateProcessing, Progress: 30})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.ServeSSE(w, r, "job-1")
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	msg := decode(t, []byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")))
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, 30, msg.Progress)

	// Completion ends the stream.
	source.set(types.JobSnapshot{JobID: "job-1", State: types.StateCompleted, Progress: 100})
	bus.Publish(&events.Event{JobID: "job-1", Type: events.TypeCompleted, Timestamp: time.Now()})
}

func TestPublisher_ServeSSE_UnknownJob(t *testing.T) {
	p := NewPublisher(newFakeSource(), events.NewBus())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.ServeSSE(w, r, "nope")
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublisher_ServeWS(t *testing.T) {
	source := newFakeSource()
	bus := events.NewBus()
	p := NewPublisher(source, bus, WithLinger(10*time.Millisecond))

	source.set(types.JobSnapshot{JobID: "job-1", State: types.StateProcessing, Progress: 85})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.ServeWS(w, r, "job-1")
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	msg := decode(t, payload)
	assert.Equal(t, 85, msg.Progress)
	assert.Equal(t, StageFinalizing, msg.ProcessingStage)
}
