package memo

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/tokencache/kv"
	"github.com/jonwraymond/tokencache/meta"
	"github.com/jonwraymond/tokencache/resilience"
)

// writeJob persists one computed result.
type writeJob struct {
	call    callInfo
	key     string
	md      meta.Meta
	payload []byte
	seq     uint64
}

// writeQueue is a bounded write-behind queue. The bulkhead bounds the
// backlog; a job holds its slot until applied.
type writeQueue struct {
	jobs  chan writeJob
	slots *resilience.Bulkhead
	apply func(context.Context, writeJob)
	group *errgroup.Group

	mu       sync.Mutex
	closed   bool
	next     uint64
	inflight map[uint64]struct{}
	changed  chan struct{}
}

func newWriteQueue(size, workers int, apply func(context.Context, writeJob)) *writeQueue {
	q := &writeQueue{
		jobs:     make(chan writeJob, size),
		slots:    resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: size}),
		apply:    apply,
		group:    &errgroup.Group{},
		inflight: make(map[uint64]struct{}),
		changed:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		ctx := kv.WithSlot(context.Background(), fmt.Sprintf("memo-writer-%d", i))
		q.group.Go(func() error {
			for job := range q.jobs {
				q.apply(ctx, job)
				q.done(job.seq)
			}
			return nil
		})
	}
	return q
}

// enqueue reports false when the queue is full or closed; the caller then
// writes synchronously.
func (q *writeQueue) enqueue(job writeJob) bool {
	if !q.slots.TryAcquire() {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.slots.Release()
		return false
	}
	job.seq = q.next
	q.next++
	q.inflight[job.seq] = struct{}{}
	q.jobs <- job // never blocks: a slot is held
	return true
}

func (q *writeQueue) done(seq uint64) {
	q.slots.Release()
	q.mu.Lock()
	delete(q.inflight, seq)
	close(q.changed)
	q.changed = make(chan struct{})
	q.mu.Unlock()
}

// flush waits until no job enqueued before the call is in flight.
func (q *writeQueue) flush(ctx context.Context) error {
	q.mu.Lock()
	target := q.next
	q.mu.Unlock()
	for {
		q.mu.Lock()
		pending := false
		for seq := range q.inflight {
			if seq < target {
				pending = true
				break
			}
		}
		wait := q.changed
		q.mu.Unlock()
		if !pending {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// close stops accepting jobs, drains the backlog and waits for the workers.
func (q *writeQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- q.group.Wait() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
