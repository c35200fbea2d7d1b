package timedqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	kclock "k8s.io/utils/clock"
)

// Processor drives a Queue with a single background consumer goroutine,
// invoking ExecuteFn for every entry whose delay has elapsed.
type Processor[K comparable, V any] struct {
	queue     *Queue[K, V]
	executeFn func(key K, val V)
	log       *slog.Logger
	runningCh chan struct{}

	enqueuedCount metric.Int64Counter
	expiredCount  metric.Int64Counter
}

// ProcessorOptions are options for NewProcessor.
type ProcessorOptions[K comparable, V any] struct {
	// Delay between an entry being enqueued and ExecuteFn being invoked.
	Delay time.Duration

	// Method invoked when an entry expires.
	// Invocations happen on the processor's consumer goroutine, in enqueue
	// order, one at a time.
	ExecuteFn func(key K, val V)

	// Initial capacity for the entry storage.
	// This is optional.
	InitialCapacity int

	// Logger used to report panics in ExecuteFn.
	// This is optional, and defaults to slog.Default().
	Logger *slog.Logger

	// Meter used to record queue metrics.
	// This is optional, and when unset metrics are no-ops.
	Meter metric.Meter

	// Internal clock property, used for testing
	clock kclock.Clock
}

// NewProcessor returns a Processor with a running consumer goroutine.
// Callers must invoke Close to stop it.
func NewProcessor[K comparable, V any](opts ProcessorOptions[K, V]) (*Processor[K, V], error) {
	if opts.ExecuteFn == nil {
		panic("ExecuteFn is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Meter == nil {
		opts.Meter = noop.Meter{}
	}

	p := &Processor[K, V]{
		queue: New[K, V](Options{
			Delay:           opts.Delay,
			InitialCapacity: opts.InitialCapacity,
			clock:           opts.clock,
		}),
		executeFn: opts.ExecuteFn,
		log:       opts.Logger,
		runningCh: make(chan struct{}),
	}

	var err error
	p.enqueuedCount, err = opts.Meter.Int64Counter("timedqueue.enqueued",
		metric.WithDescription("Entries enqueued, including refreshes of live keys"))
	if err != nil {
		return nil, fmt.Errorf("failed to create timedqueue.enqueued counter: %w", err)
	}
	p.expiredCount, err = opts.Meter.Int64Counter("timedqueue.expired",
		metric.WithDescription("Entries whose delay elapsed and were delivered to ExecuteFn"))
	if err != nil {
		return nil, fmt.Errorf("failed to create timedqueue.expired counter: %w", err)
	}

	go p.run()

	return p, nil
}

// Enqueue adds an entry for key, replacing any live entry for the same key
// and restarting its delay.
func (p *Processor[K, V]) Enqueue(key K, val V) {
	p.queue.Enqueue(key, val)
	p.enqueuedCount.Add(context.Background(), 1)
}

// Dequeue removes the entry for key, if one is live.
func (p *Processor[K, V]) Dequeue(key K) {
	p.queue.Dequeue(key)
}

// Len returns the number of live entries.
func (p *Processor[K, V]) Len() int {
	return p.queue.Len()
}

// Close stops the processor and waits for the consumer goroutine to return.
// Entries already due are delivered before the goroutine exits; entries whose
// delay has not yet elapsed are discarded. Safe to call multiple times.
func (p *Processor[K, V]) Close() {
	p.queue.Stop()
	<-p.runningCh
}

func (p *Processor[K, V]) run() {
	defer close(p.runningCh)

	for p.queue.Process(p.execute) {
		// Nop - keep consuming until shutdown
	}
}

func (p *Processor[K, V]) execute(key K, val V) {
	// A panicking ExecuteFn must not kill the consumer goroutine.
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Panic in timed queue ExecuteFn",
				slog.Any("panic", r),
				slog.Any("key", key),
			)
		}
	}()

	p.expiredCount.Add(context.Background(), 1)
	p.executeFn(key, val)
}
