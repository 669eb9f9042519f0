package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidatesFields(t *testing.T) {
	msg, err := Decode([]byte(`{"runId":"r1","sourceEndpointId":"e1","correlationId":"c1"}`))
	require.NoError(t, err)
	assert.Equal(t, TaskMessage{RunID: "r1", SourceEndpointID: "e1", CorrelationID: "c1"}, msg)

	_, err = Decode([]byte(`{"runId":"r1"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeUsesWireNames(t *testing.T) {
	data, err := Encode(TaskMessage{RunID: "r1", SourceEndpointID: "e1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"runId":"r1","sourceEndpointId":"e1"}`, string(data))
}

func TestMemoryQueueDeliversEveryTask(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	q, err := NewMemoryQueue(4, 0, HandlerFunc(func(_ context.Context, msg TaskMessage) {
		mu.Lock()
		defer mu.Unlock()
		seen[msg.SourceEndpointID]++
	}))
	require.NoError(t, err)
	defer q.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, q.Publish(context.Background(), TaskMessage{RunID: "r", SourceEndpointID: fmt.Sprintf("e%d", i)}))
	}
	q.Wait()

	assert.Len(t, seen, 50)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}

func TestMemoryQueueHandlerOutlivesPublishContext(t *testing.T) {
	got := make(chan error, 1)
	q, err := NewMemoryQueue(1, 0, HandlerFunc(func(ctx context.Context, _ TaskMessage) {
		got <- ctx.Err()
	}))
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Publish(ctx, TaskMessage{RunID: "r", SourceEndpointID: "e"}))
	assert.NoError(t, <-got)
}

func TestMemoryQueueFullAndClosed(t *testing.T) {
	release := make(chan struct{})
	q, err := NewMemoryQueue(1, 1, HandlerFunc(func(context.Context, TaskMessage) {
		<-release
	}))
	require.NoError(t, err)

	var full bool
	for i := 0; i < 10 && !full; i++ {
		if err := q.Publish(context.Background(), TaskMessage{RunID: "r", SourceEndpointID: "e"}); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			full = true
		}
	}
	assert.True(t, full)

	close(release)
	q.Close()
	assert.ErrorIs(t, q.Publish(context.Background(), TaskMessage{RunID: "r", SourceEndpointID: "e"}), ErrQueueClosed)
}
