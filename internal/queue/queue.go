// Package queue implements the rate-limited request pipeline.
//
// Every outbound call to the OSM backend passes through a single Queue. A
// lone run loop executes one call at a time, which is what enforces the
// "at most one request in flight" invariant. When the backend signals rate
// limiting the loop sleeps until the server-imposed deadline and re-queues
// the failed call with a priority boost so it cannot starve behind
// unrelated new traffic.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/metrics"
)

// APICall is one unit of work: a single upstream request.
type APICall func(ctx context.Context) (any, error)

// Options control how a call is scheduled.
type Options struct {
	Priority int           // higher runs first; FIFO within equal priorities
	Timeout  time.Duration // absolute deadline from enqueue; 0 uses the queue default
}

// Status is the snapshot pushed to subscribers on every state change.
type Status struct {
	QueueLength        int
	Processing         bool
	RateLimited        bool
	SecondsUntilResume int
}

// Config tunes the queue. Zero values fall back to the defaults below.
type Config struct {
	MaxRetries   int           // retries for rate-limited calls
	BaseDelay    time.Duration // minimum backoff
	MaxDelay     time.Duration // maximum backoff
	EntryTimeout time.Duration // default absolute deadline per entry
	CallGap      time.Duration // pause between successive calls
	ResumeSlack  time.Duration // extra delay after a rate limit expires
}

const (
	defaultMaxRetries   = 3
	defaultBaseDelay    = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultEntryTimeout = 5 * time.Minute
	defaultCallGap      = 50 * time.Millisecond
	defaultResumeSlack  = 100 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.EntryTimeout == 0 {
		c.EntryTimeout = defaultEntryTimeout
	}
	if c.CallGap == 0 {
		c.CallGap = defaultCallGap
	}
	if c.ResumeSlack == 0 {
		c.ResumeSlack = defaultResumeSlack
	}
	return c
}

type result struct {
	value any
	err   error
}

type entry struct {
	id        string
	call      APICall
	priority  int
	attempts  int
	createdAt time.Time
	deadline  time.Time
	done      chan result // buffered; resolved exactly once
}

func (e *entry) resolve(r result) {
	select {
	case e.done <- r:
	default:
	}
}

// Queue is the rate-limited request pipeline.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu               sync.Mutex
	entries          []*entry
	processing       bool
	rateLimitedUntil time.Time
	closed           bool
	wake             chan struct{}

	subMu   sync.Mutex
	subs    map[int]func(Status)
	nextSub int
}

// New creates a queue. Run must be started for calls to execute.
func New(cfg Config) *Queue {
	return &Queue{
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		subs:   make(map[int]func(Status)),
	}
}

// Do submits a call and blocks until it resolves, is rejected, times out,
// or ctx is cancelled. Safe for concurrent use.
func (q *Queue) Do(ctx context.Context, opts Options, call APICall) (any, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = q.cfg.EntryTimeout
	}

	now := time.Now()
	e := &entry{
		id:        uuid.NewString(),
		call:      call,
		priority:  opts.Priority,
		createdAt: now,
		deadline:  now.Add(timeout),
		done:      make(chan result, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue is closed")
	}
	q.insertLocked(e)
	q.mu.Unlock()

	metrics.QueueEnqueueTotal.Inc()
	q.wakeUp()
	q.notify()

	select {
	case r := <-e.done:
		return r.value, r.err
	case <-ctx.Done():
		// Remove if still pending; if already executing, wait it out so
		// the single-flight invariant stays observable to the caller.
		if q.removePending(e) {
			q.notify()
			return nil, ctx.Err()
		}
		r := <-e.done
		return r.value, r.err
	}
}

// insertLocked places e before the first entry of strictly lower priority,
// preserving FIFO order within a priority band.
func (q *Queue) insertLocked(e *entry) {
	idx := len(q.entries)
	for i, x := range q.entries {
		if x.priority < e.priority {
			idx = i
			break
		}
	}
	q.entries = append(q.entries, nil)
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = e
}

// removePending removes e if it has not been claimed by the run loop yet.
func (q *Queue) removePending(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, x := range q.entries {
		if x == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear rejects every pending entry with the given reason. In-flight work
// is unaffected.
func (q *Queue) Clear(reason string) {
	q.mu.Lock()
	cleared := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range cleared {
		e.resolve(result{err: fmt.Errorf("request cleared from queue: %s", reason)})
		metrics.QueueDequeueTotal.WithLabelValues(metrics.ResultCleared).Inc()
	}
	if len(cleared) > 0 {
		q.logger.Info("Cleared request queue", "count", len(cleared), "reason", reason)
	}
	q.notify()
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Status returns a snapshot of the queue state.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) statusLocked() Status {
	s := Status{
		QueueLength: len(q.entries),
		Processing:  q.processing,
	}
	if until := time.Until(q.rateLimitedUntil); until > 0 {
		s.RateLimited = true
		s.SecondsUntilResume = int(math.Ceil(until.Seconds()))
	}
	return s
}

// Subscribe registers a status listener. It is invoked immediately with the
// current snapshot and on every subsequent state change. Returns an id for
// Unsubscribe.
func (q *Queue) Subscribe(fn func(Status)) int {
	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.subMu.Unlock()

	fn(q.Status())
	return id
}

// Unsubscribe removes a status listener.
func (q *Queue) Unsubscribe(id int) {
	q.subMu.Lock()
	delete(q.subs, id)
	q.subMu.Unlock()
}

func (q *Queue) notify() {
	snap := q.Status()

	metrics.QueueDepth.Set(float64(snap.QueueLength))
	if snap.RateLimited {
		metrics.QueueRateLimited.Set(1)
	} else {
		metrics.QueueRateLimited.Set(0)
	}

	q.subMu.Lock()
	fns := make([]func(Status), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	q.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (q *Queue) wakeUp() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run executes queued calls until ctx is cancelled. It must be called
// exactly once; pending entries are rejected on shutdown.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.shutdown()
			return ctx.Err()
		default:
		}

		q.expireEntries()

		// Honour a server-imposed rate limit before dequeuing anything
		q.mu.Lock()
		wait := time.Until(q.rateLimitedUntil)
		q.mu.Unlock()
		if wait > 0 {
			q.notify()
			if !sleepCtx(ctx, wait+q.cfg.ResumeSlack) {
				q.shutdown()
				return ctx.Err()
			}
			continue
		}

		q.mu.Lock()
		if len(q.entries) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				q.shutdown()
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}
		e := q.entries[0]
		q.entries = q.entries[1:]
		q.processing = true
		q.mu.Unlock()
		q.notify()

		q.execute(ctx, e)

		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
		q.notify()

		// Small gap between calls preserves ordering semantics for observers
		if !sleepCtx(ctx, q.cfg.CallGap) {
			q.shutdown()
			return ctx.Err()
		}
	}
}

func (q *Queue) execute(ctx context.Context, e *entry) {
	metrics.QueueWaitDuration.Observe(time.Since(e.createdAt).Seconds())

	callCtx, cancel := context.WithDeadline(ctx, e.deadline)
	value, err := e.call(callCtx)
	cancel()

	if err == nil {
		metrics.QueueDequeueTotal.WithLabelValues(metrics.ResultSuccess).Inc()
		e.resolve(result{value: value})
		return
	}

	if apperr.Is(err, apperr.KindRateLimited) {
		e.attempts++
		if e.attempts < q.cfg.MaxRetries {
			retryAfter := q.cfg.BaseDelay
			if hint, ok := apperr.RetryAfterOf(err); ok {
				retryAfter = hint
			}
			retryAfter = clampDuration(retryAfter, q.cfg.BaseDelay, q.cfg.MaxDelay)

			q.mu.Lock()
			q.rateLimitedUntil = time.Now().Add(retryAfter)
			// Progressive priority boost so retried work runs before
			// unrelated traffic enqueued while we were sleeping
			e.priority++
			q.insertLocked(e)
			q.mu.Unlock()

			metrics.QueueDequeueTotal.WithLabelValues(metrics.ResultRetry).Inc()
			q.logger.Warn("Rate limited, requeueing",
				"id", e.id,
				"attempt", e.attempts,
				"retry_after", retryAfter,
				"priority", e.priority)
			return
		}
		q.logger.Error("Rate limit retries exhausted", "id", e.id, "attempts", e.attempts)
	}

	metrics.QueueDequeueTotal.WithLabelValues(metrics.ResultFailure).Inc()
	e.resolve(result{err: err})
}

// expireEntries removes and rejects entries whose absolute deadline passed.
func (q *Queue) expireEntries() {
	now := time.Now()

	q.mu.Lock()
	var live []*entry
	var expired []*entry
	for _, e := range q.entries {
		if now.After(e.deadline) {
			expired = append(expired, e)
		} else {
			live = append(live, e)
		}
	}
	q.entries = live
	q.mu.Unlock()

	for _, e := range expired {
		metrics.QueueDequeueTotal.WithLabelValues(metrics.ResultTimeout).Inc()
		q.logger.Warn("Request timed out in queue", "id", e.id, "age", now.Sub(e.createdAt))
		e.resolve(result{err: apperr.Newf(apperr.KindRequestTimeout,
			"request expired after %s in queue", now.Sub(e.createdAt).Round(time.Millisecond))})
	}
	if len(expired) > 0 {
		q.notify()
	}
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear("queue stopped")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
