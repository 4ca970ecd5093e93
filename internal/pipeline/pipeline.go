// Package pipeline hands fully-assembled picture descriptors from the
// parsing goroutine to a submission worker over a bounded queue. The queue
// is the only concurrency boundary around the parsing core: push blocks
// when the worker falls behind, pop blocks until a descriptor arrives, and
// shutdown drains everything already accepted before the worker exits.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/refract/internal/video"
)

var (
	// ErrClosed is returned by Push once Close has been called.
	ErrClosed = errors.New("pipeline: queue closed")
	// ErrDrained is returned by Pop after Close once every accepted
	// descriptor has been delivered.
	ErrDrained = errors.New("pipeline: queue drained")
)

// Stats is a point-in-time snapshot of the queue counters.
type Stats struct {
	Accepted  int64
	Delivered int64
	Dropped   int64
}

// Queue is a bounded FIFO of picture descriptors. Timeouts on either side
// come from the caller's context; an undecorated context waits forever.
type Queue struct {
	log *slog.Logger

	ch        chan *video.PictureDescriptor
	done      chan struct{}
	closeOnce sync.Once

	accepted  atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewQueue returns a queue holding at most depth descriptors.
func NewQueue(depth int, log *slog.Logger) *Queue {
	if depth < 1 {
		depth = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		log:  log,
		ch:   make(chan *video.PictureDescriptor, depth),
		done: make(chan struct{}),
	}
}

// Push appends a descriptor, blocking while the queue is full. It fails
// with ErrClosed after Close and with the context error on cancellation;
// either way the descriptor counts as dropped.
func (q *Queue) Push(ctx context.Context, d *video.PictureDescriptor) error {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return ErrClosed
	default:
	}
	select {
	case q.ch <- d:
		q.accepted.Add(1)
		return nil
	case <-q.done:
		q.dropped.Add(1)
		return ErrClosed
	case <-ctx.Done():
		q.dropped.Add(1)
		return ctx.Err()
	}
}

// Pop removes the oldest descriptor, blocking until one arrives. After
// Close it keeps delivering what was already accepted, then reports
// ErrDrained.
func (q *Queue) Pop(ctx context.Context) (*video.PictureDescriptor, error) {
	select {
	case d := <-q.ch:
		q.delivered.Add(1)
		return d, nil
	default:
	}
	select {
	case d := <-q.ch:
		q.delivered.Add(1)
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		select {
		case d := <-q.ch:
			q.delivered.Add(1)
			return d, nil
		default:
			return nil, ErrDrained
		}
	}
}

// Close stops accepting new descriptors. Pending ones remain poppable.
// Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Depth reports how many descriptors are waiting.
func (q *Queue) Depth() int { return len(q.ch) }

// Stats snapshots the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Accepted:  q.accepted.Load(),
		Delivered: q.delivered.Load(),
		Dropped:   q.dropped.Load(),
	}
}

// Run consumes the queue with submit until the queue drains or the context
// is cancelled. Cancellation is observed between descriptors, never during
// a submit call.
func (q *Queue) Run(ctx context.Context, submit func(*video.PictureDescriptor) error) error {
	for {
		d, err := q.Pop(ctx)
		switch {
		case errors.Is(err, ErrDrained):
			return nil
		case err != nil:
			return err
		}
		if err := submit(d); err != nil {
			q.log.Error("picture submission failed", "error", err)
			return err
		}
	}
}

// Pipeline couples a producing parse loop with a consuming submission
// worker over one queue. The producer's return closes the queue so the
// worker finishes the backlog before Run returns.
type Pipeline struct {
	log   *slog.Logger
	queue *Queue
}

// New returns a pipeline over a queue of the given depth.
func New(depth int, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{log: log, queue: NewQueue(depth, log)}
}

// Queue exposes the push side for the producer.
func (p *Pipeline) Queue() *Queue { return p.queue }

// Run starts the producer and the submission worker and waits for both.
// The first failure cancels the other side at its next frame boundary.
func (p *Pipeline) Run(ctx context.Context, produce func(context.Context, *Queue) error, submit func(*video.PictureDescriptor) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer p.queue.Close()
		return produce(ctx, p.queue)
	})
	g.Go(func() error {
		return p.queue.Run(ctx, submit)
	})
	err := g.Wait()
	stats := p.queue.Stats()
	p.log.Debug("pipeline finished",
		"accepted", stats.Accepted,
		"delivered", stats.Delivered,
		"dropped", stats.Dropped)
	return err
}
