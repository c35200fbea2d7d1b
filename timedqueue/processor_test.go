package timedqueue

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestProcessorExecutesInOrder(t *testing.T) {
	clock := clocktesting.NewFakeClock(time.Now())

	executed := make(chan delivery, 3)
	p, err := NewProcessor(ProcessorOptions[string, string]{
		Delay: time.Second,
		ExecuteFn: func(key, val string) {
			executed <- delivery{key, val}
		},
		clock: clock,
	})
	require.NoError(t, err)
	defer p.Close()

	p.Enqueue("key1", "val1")
	p.Enqueue("key2", "val2")
	p.Enqueue("key3", "val3")
	require.Equal(t, 3, p.Len())

	// Wait for the consumer goroutine to block on the first entry's timer
	// before advancing the clock
	require.Eventually(t, clock.HasWaiters, time.Second, 10*time.Millisecond)
	clock.Step(time.Second)

	for _, want := range []delivery{
		{"key1", "val1"},
		{"key2", "val2"},
		{"key3", "val3"},
	} {
		select {
		case got := <-executed:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("entry %q was not executed", want.key)
		}
	}
}

func TestProcessorReplacesByKey(t *testing.T) {
	executed := make(chan delivery, 2)
	p, err := NewProcessor(ProcessorOptions[string, string]{
		Delay: 50 * time.Millisecond,
		ExecuteFn: func(key, val string) {
			executed <- delivery{key, val}
		},
	})
	require.NoError(t, err)
	defer p.Close()

	p.Enqueue("key1", "stale")
	p.Enqueue("key2", "val2")
	p.Enqueue("key1", "fresh")

	// key1 was refreshed after key2 was enqueued, so it executes second
	for _, want := range []delivery{
		{"key2", "val2"},
		{"key1", "fresh"},
	} {
		select {
		case got := <-executed:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("entry %q was not executed", want.key)
		}
	}
}

func TestProcessorDequeue(t *testing.T) {
	executed := make(chan delivery, 2)
	p, err := NewProcessor(ProcessorOptions[string, string]{
		Delay: 50 * time.Millisecond,
		ExecuteFn: func(key, val string) {
			executed <- delivery{key, val}
		},
	})
	require.NoError(t, err)
	defer p.Close()

	p.Enqueue("key1", "val1")
	p.Enqueue("key2", "val2")
	p.Dequeue("key1")

	select {
	case got := <-executed:
		assert.Equal(t, delivery{"key2", "val2"}, got)
	case <-time.After(time.Second):
		t.Fatal("entry key2 was not executed")
	}

	select {
	case got := <-executed:
		t.Fatalf("dequeued entry %q was executed", got.key)
	case <-time.After(100 * time.Millisecond):
		// Nop - key1 never surfaced
	}
}

func TestProcessorSurvivesPanickingExecuteFn(t *testing.T) {
	executed := make(chan delivery, 2)
	p, err := NewProcessor(ProcessorOptions[string, string]{
		Delay: 50 * time.Millisecond,
		ExecuteFn: func(key, val string) {
			if key == "bad" {
				panic("boom")
			}
			executed <- delivery{key, val}
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	defer p.Close()

	p.Enqueue("bad", "val1")
	p.Enqueue("key2", "val2")

	select {
	case got := <-executed:
		assert.Equal(t, delivery{"key2", "val2"}, got)
	case <-time.After(time.Second):
		t.Fatal("consumer goroutine did not survive the panic")
	}
}

func TestProcessorCloseIsIdempotent(t *testing.T) {
	p, err := NewProcessor(ProcessorOptions[string, string]{
		Delay:     time.Second,
		ExecuteFn: func(key, val string) {},
	})
	require.NoError(t, err)

	p.Close()
	p.Close()
}

func TestNewProcessorPanicsWithoutExecuteFn(t *testing.T) {
	require.Panics(t, func() {
		_, _ = NewProcessor(ProcessorOptions[string, string]{Delay: time.Second})
	})
}
