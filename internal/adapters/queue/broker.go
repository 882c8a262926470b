// Package queue is an in-process broker: named buffered queues drained by a
// bounded pool that runs workers and hands their envelopes to ingestion.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

type Config struct {
	// QueueSize is the capacity of each named queue.
	QueueSize int
	// Concurrency bounds the number of tasks executing at once.
	Concurrency int64
}

type Broker struct {
	logger   *slog.Logger
	executor ports.WorkerExecutor
	sink     ports.EnvelopeSink
	sem      *semaphore.Weighted
	size     int

	mu     sync.Mutex
	queues map[string]chan domain.TaskMessage
	closed bool
	wg     sync.WaitGroup
}

var _ ports.Broker = (*Broker)(nil)

func New(logger *slog.Logger, executor ports.WorkerExecutor, sink ports.EnvelopeSink, cfg Config) *Broker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Broker{
		logger:   logger,
		executor: executor,
		sink:     sink,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		size:     cfg.QueueSize,
		queues:   make(map[string]chan domain.TaskMessage),
	}
}

// Declare creates the named queues. Submitting to an undeclared queue fails,
// the way a broker without a consumer for a routing key would drop it.
func (b *Broker) Declare(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		if _, ok := b.queues[name]; !ok {
			b.queues[name] = make(chan domain.TaskMessage, b.size)
		}
	}
}

// Submit enqueues msg without blocking.
func (b *Broker) Submit(ctx context.Context, queue string, msg domain.TaskMessage) (ports.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("broker closed")
	}
	q, ok := b.queues[queue]
	if !ok {
		return "", fmt.Errorf("unknown queue %q", queue)
	}

	select {
	case q <- msg:
		return ports.Handle(fmt.Sprintf("%s/%s", queue, msg.TaskID)), nil
	default:
		return "", fmt.Errorf("queue %q full", queue)
	}
}

// Start launches one consumer per declared queue. Consumers stop when ctx is
// done; Close waits for in-flight tasks.
func (b *Broker) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, q := range b.queues {
		b.wg.Add(1)
		go b.consume(ctx, name, q)
	}
	b.logger.Info("in-process broker started", "queues", len(b.queues))
}

func (b *Broker) consume(ctx context.Context, name string, q <-chan domain.TaskMessage) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q:
			if !ok {
				return
			}
			if err := b.sem.Acquire(ctx, 1); err != nil {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer b.sem.Release(1)
				b.handle(ctx, name, msg)
			}()
		}
	}
}

func (b *Broker) handle(ctx context.Context, queue string, msg domain.TaskMessage) {
	env := b.executor.Execute(ctx, msg)
	// ingestion must record the outcome even when the run was cut short
	res, err := b.sink.IngestEnvelope(context.WithoutCancel(ctx), env)
	if err != nil {
		b.logger.Error("failed to ingest worker envelope", "queue", queue, "task_id", msg.TaskID, "error", err)
		return
	}
	if res.Duplicate {
		b.logger.Warn("duplicate worker envelope", "queue", queue, "task_id", msg.TaskID)
	}
}

// Close stops accepting messages and waits for running tasks.
func (b *Broker) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, q := range b.queues {
			close(q)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}
