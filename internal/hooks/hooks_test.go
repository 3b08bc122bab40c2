package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/conductor/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var called bool
	m.On(EventDelegationStart, "test", func(_ context.Context, p Payload) error {
		called = true
		assert.Equal(t, EventDelegationStart, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventDelegationStart, nil)
	assert.True(t, called)
}

func TestManager_Emit_MultipleHandlers(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventStepComplete, "first", func(_ context.Context, _ Payload) error {
		order = append(order, "first")
		return nil
	})
	m.On(EventStepComplete, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventStepComplete, nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestManager_Emit_WithData(t *testing.T) {
	m := testManager()

	var got Payload
	m.On(EventDelegationComplete, "test", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	m.Emit(context.Background(), EventDelegationComplete, map[string]any{
		"agent_id":    "researcher",
		"success":     true,
		"duration_ms": int64(42),
	})

	assert.Equal(t, "researcher", got.Str("agent_id"))
	assert.True(t, got.Bool("success"))
	ms, ok := got.Float("duration_ms")
	assert.True(t, ok)
	assert.Equal(t, 42.0, ms)
	assert.Empty(t, got.Str("missing"))
	_, ok = got.Float("agent_id")
	assert.False(t, ok)
}

func TestManager_Emit_HandlerError(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventStepStart, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventStepStart, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	m.Emit(context.Background(), EventStepStart, nil)
	assert.True(t, secondCalled)
}

func TestManager_Emit_HandlerPanic(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventStepSkipped, "panics", func(_ context.Context, _ Payload) error {
		panic("observer exploded")
	})
	m.On(EventStepSkipped, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventStepSkipped, nil)
	})
	assert.True(t, secondCalled)
}

func TestManager_Emit_NoHandlers(t *testing.T) {
	m := testManager()
	m.Emit(context.Background(), EventWorkflowComplete, nil)
}

func TestManager_Off(t *testing.T) {
	m := testManager()

	callCount := 0
	m.On(EventStreamChunk, "removable", func(_ context.Context, _ Payload) error {
		callCount++
		return nil
	})

	m.Emit(context.Background(), EventStreamChunk, nil)
	assert.Equal(t, 1, callCount)

	m.Off(EventStreamChunk, "removable")
	m.Emit(context.Background(), EventStreamChunk, nil)
	assert.Equal(t, 1, callCount)
}

func TestManager_Off_KeepsOthers(t *testing.T) {
	m := testManager()

	var keepCalled int
	m.On(EventStreamStart, "remove-me", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventStreamStart, "keep-me", func(_ context.Context, _ Payload) error {
		keepCalled++
		return nil
	})

	m.Off(EventStreamStart, "remove-me")
	m.Emit(context.Background(), EventStreamStart, nil)
	assert.Equal(t, 1, keepCalled)
}

func TestManager_EmitAsync(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	m.On(EventAgentsReloaded, "async1", func(_ context.Context, _ Payload) error {
		count.Add(1)
		wg.Done()
		return nil
	})
	m.On(EventAgentsReloaded, "async2", func(_ context.Context, _ Payload) error {
		count.Add(1)
		wg.Done()
		return nil
	})

	m.EmitAsync(context.Background(), EventAgentsReloaded, nil)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}

	assert.Equal(t, int32(2), count.Load())
}

func TestManager_Count(t *testing.T) {
	m := testManager()

	assert.Equal(t, 0, m.Count(EventDelegationCacheHit))

	m.On(EventDelegationCacheHit, "h1", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 1, m.Count(EventDelegationCacheHit))

	m.On(EventDelegationCacheHit, "h2", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 2, m.Count(EventDelegationCacheHit))
}

func TestManager_Events(t *testing.T) {
	m := testManager()

	m.On(EventStepComplete, "h1", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventDelegationComplete, "h2", func(_ context.Context, _ Payload) error { return nil })

	events := m.Events()
	assert.Len(t, events, 2)
	assert.Contains(t, events, EventStepComplete)
	assert.Contains(t, events, EventDelegationComplete)
}

func TestAllEvents_NotEmpty(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	assert.Contains(t, AllEvents, EventDelegationStart)
	assert.Contains(t, AllEvents, EventStepComplete)
}
