// Package queue serializes agent launches. Requests are dispatched strictly
// first-in first-out by a single worker, so at most one launch is in flight
// at any time and instruction-file swaps never overlap.
package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// DefaultCapacity bounds pending launches when the config does not.
const DefaultCapacity = 64

// LaunchFunc executes one launch end to end. Called only from the worker.
type LaunchFunc func(ctx context.Context, req *domain.LaunchRequest) (*domain.Agent, error)

type outcome struct {
	agent *domain.Agent
	err   error
}

type item struct {
	req      *domain.LaunchRequest
	queuedAt time.Time
	// result is buffered so a finished launch never blocks on a caller
	// that already gave up.
	result chan outcome
}

// Queue is the bounded FIFO launch queue.
type Queue struct {
	launch   LaunchFunc
	logger   *logger.Logger
	capacity int

	mu       sync.Mutex
	pending  []*item
	byID     map[string]*item
	inFlight string
	wake     chan struct{}
}

// New creates a queue. capacity <= 0 falls back to DefaultCapacity.
func New(capacity int, launch LaunchFunc, log *logger.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		launch:   launch,
		logger:   log.WithFields(zap.String("component", "launch-queue")),
		capacity: capacity,
		byID:     make(map[string]*item),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue appends the request and blocks until its launch finishes, the
// request is cancelled, or the caller's context ends. A request whose launch
// has already started keeps running even if the caller stops waiting.
func (q *Queue) Enqueue(ctx context.Context, req *domain.LaunchRequest) (*domain.Agent, error) {
	q.mu.Lock()
	if len(q.pending) >= q.capacity {
		q.mu.Unlock()
		return nil, errors.Conflict("launch queue is full")
	}
	if _, exists := q.byID[req.ID]; exists {
		q.mu.Unlock()
		return nil, errors.Conflict("request already queued: " + req.ID)
	}

	it := &item{
		req:      req,
		queuedAt: time.Now().UTC(),
		result:   make(chan outcome, 1),
	}
	q.pending = append(q.pending, it)
	q.byID[req.ID] = it
	position := len(q.pending)
	q.mu.Unlock()

	q.logger.Debug("launch queued",
		zap.String("request_id", req.ID),
		zap.Int("position", position))
	q.signal()

	select {
	case out := <-it.result:
		return out.agent, out.err
	case <-ctx.Done():
		q.withdraw(req.ID)
		return nil, ctx.Err()
	}
}

// Run is the worker loop. It owns every launch; the composition root runs
// exactly one. Pending requests are failed with Cancelled on shutdown.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.drainPending()
			return ctx.Err()
		default:
		}

		it := q.next()
		if it == nil {
			select {
			case <-ctx.Done():
				q.drainPending()
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}

		q.logger.Info("launching",
			zap.String("request_id", it.req.ID),
			zap.String("agent_type", string(it.req.AgentType)),
			zap.Duration("waited", time.Since(it.queuedAt)))

		agent, err := q.launch(ctx, it.req)
		q.finish(it, agent, err)

		if err != nil {
			q.logger.Warn("launch failed",
				zap.String("request_id", it.req.ID),
				zap.Error(err))
		}
	}
}

// Cancel removes a pending request; its waiting caller fails with Cancelled.
// An in-flight request is left alone (nil); an unknown id is NotFound.
func (q *Queue) Cancel(requestID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight == requestID {
		return nil
	}
	it, ok := q.byID[requestID]
	if !ok {
		return errors.NotFound("queued request", requestID)
	}

	q.removePendingLocked(requestID)
	delete(q.byID, requestID)
	it.result <- outcome{err: errors.Cancelled(requestID)}

	q.logger.Info("launch cancelled", zap.String("request_id", requestID))
	return nil
}

// Len reports pending requests; the in-flight launch is not counted.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) next() *item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	it := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.inFlight = it.req.ID
	return it
}

func (q *Queue) finish(it *item, agent *domain.Agent, err error) {
	q.mu.Lock()
	q.inFlight = ""
	delete(q.byID, it.req.ID)
	q.mu.Unlock()

	it.result <- outcome{agent: agent, err: err}
}

// withdraw drops a still-pending request whose caller stopped waiting.
func (q *Queue) withdraw(requestID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight == requestID {
		return
	}
	if _, ok := q.byID[requestID]; !ok {
		return
	}
	q.removePendingLocked(requestID)
	delete(q.byID, requestID)
}

func (q *Queue) removePendingLocked(requestID string) {
	for i, it := range q.pending {
		if it.req.ID == requestID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) drainPending() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	for _, it := range pending {
		delete(q.byID, it.req.ID)
	}
	q.mu.Unlock()

	for _, it := range pending {
		it.result <- outcome{err: errors.Cancelled(it.req.ID)}
	}
	if len(pending) > 0 {
		q.logger.Warn("cancelled pending launches on shutdown",
			zap.Int("count", len(pending)))
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
