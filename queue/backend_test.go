package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/DubKit/types"
)

func envelope(id string, priority int) *types.JobEnvelope {
	return &types.JobEnvelope{
		JobID:            id,
		TranscreationID:  "tc-" + id,
		OriginalAudioURL: "file:///audio/" + id + ".wav",
		TargetLanguage:   "es-ES",
		Priority:         priority,
		EnqueuedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func drainOrder(t *testing.T, b Backend, n int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var order []string
	for i := 0; i < n; i++ {
		env, err := b.Dequeue(ctx)
		require.NoError(t, err)
		order = append(order, env.JobID)
	}
	return order
}

func TestMemoryBackend_PriorityOrder(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, envelope("free", 4)))
	require.NoError(t, b.Enqueue(ctx, envelope("studio-1", 1)))
	require.NoError(t, b.Enqueue(ctx, envelope("pro", 2)))
	require.NoError(t, b.Enqueue(ctx, envelope("studio-2", 1)))

	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Priority first, FIFO within priority.
	assert.Equal(t, []string{"studio-1", "studio-2", "pro", "free"}, drainOrder(t, b, 4))
}

func TestMemoryBackend_DequeueBlocksUntilEnqueue(t *testing.T) {
	b := NewMemoryBackend()

	got := make(chan *types.JobEnvelope, 1)
	go func() {
		env, err := b.Dequeue(context.Background())
		if err == nil {
			got <- env
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Enqueue(context.Background(), envelope("late", 1)))

	select {
	case env := <-got:
		assert.Equal(t, "late", env.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestMemoryBackend_DequeueHonorsContext(t *testing.T) {
	b := NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func setupRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBackendFromClient(client)
}

func TestRedisBackend_PriorityOrder(t *testing.T) {
	b := setupRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, envelope("free", 4)))
	require.NoError(t, b.Enqueue(ctx, envelope("studio-1", 1)))
	require.NoError(t, b.Enqueue(ctx, envelope("pro", 2)))
	require.NoError(t, b.Enqueue(ctx, envelope("studio-2", 1)))

	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, []string{"studio-1", "studio-2", "pro", "free"}, drainOrder(t, b, 4))
}

func TestRedisBackend_EnvelopeRoundTrip(t *testing.T) {
	b := setupRedisBackend(t)
	ctx := context.Background()

	want := envelope("round", 2)
	want.Segments = []types.TranscriptSegment{
		{StartMs: 0, EndMs: 1000, Text: "hola", Speaker: "A", Voice: types.VoiceClone},
	}
	want.TTSRequests = []types.TTSRequest{
		{SegmentIndex: 0, Text: "hola", Voice: types.VoiceClone},
	}
	require.NoError(t, b.Enqueue(ctx, want))

	got, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.JobID, got.JobID)
	assert.Equal(t, want.TranscreationID, got.TranscreationID)
	require.Len(t, got.Segments, 1)
	assert.Equal(t, "hola", got.Segments[0].Text)
	require.Len(t, got.TTSRequests, 1)

	// The envelope record is consumed with the queue entry.
	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPriorityMap(t *testing.T) {
	m := DefaultPlanPriorities()
	assert.Equal(t, 1, m.Priority("studio"))
	assert.Equal(t, 4, m.Priority("free"))
	// Unknown plans queue behind every known one.
	assert.Equal(t, 5, m.Priority("trial"))
	assert.Equal(t, 5, m.Priority(""))
}
