/**
 * @description
 * PaymentQueue serializes calls to the PayU signing endpoint. The endpoint rate
 * limits aggressively, so every instance keeps a single FIFO with one in-flight call
 * and a minimum spacing between call starts.
 *
 * An entry stays in the queue until its call resolves, so QueueLength counts both
 * waiting and in-flight requests.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/directory/payment-service/internal/domain"
)

// DefaultQueueInterval is the minimum time between two signing calls.
const DefaultQueueInterval = 60 * time.Second

// ErrQueueClosed is returned for requests submitted after, or still waiting at,
// shutdown.
var ErrQueueClosed = errors.New("payment queue is shut down")

// Signer sends a payment request to the signing endpoint.
type Signer interface {
	Sign(ctx context.Context, req *domain.PaymentRequest) (*domain.GatewayParams, error)
}

// QueueConfig tunes the queue.
type QueueConfig struct {
	Interval time.Duration
}

// QueueStatus is the queue depth reported to callers.
type QueueStatus struct {
	QueueLength     int   `json:"queue_length"`
	IntervalSeconds int64 `json:"interval_seconds"`
}

type queueResult struct {
	params *domain.GatewayParams
	err    error
}

type queueEntry struct {
	request    *domain.PaymentRequest
	enqueuedAt time.Time
	result     chan queueResult
}

// PaymentQueue is a single-consumer FIFO in front of a Signer.
type PaymentQueue struct {
	signer   Signer
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	pending   []*queueEntry
	lastStart time.Time
	closed    bool

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPaymentQueue starts the drain loop. Call Shutdown to stop it.
func NewPaymentQueue(signer Signer, cfg QueueConfig, logger *slog.Logger) *PaymentQueue {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultQueueInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &PaymentQueue{
		signer:   signer,
		interval: interval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go q.run()
	return q
}

// Enqueue appends the request and waits for its result. If ctx ends first the
// caller gets ctx.Err(); the request is still sent and its result discarded.
func (q *PaymentQueue) Enqueue(ctx context.Context, req *domain.PaymentRequest) (*domain.GatewayParams, error) {
	entry := &queueEntry{
		request:    req,
		enqueuedAt: time.Now(),
		result:     make(chan queueResult, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.pending = append(q.pending, entry)
	depth := len(q.pending)
	q.mu.Unlock()

	q.signal()
	q.logger.Info("payment request queued", "txnid", req.TransactionID, "queue_length", depth)

	select {
	case res := <-entry.result:
		return res.params, res.err
	case <-ctx.Done():
		q.logger.Warn("caller stopped waiting for queued payment request", "txnid", req.TransactionID, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

// Status reports the number of waiting plus in-flight requests.
func (q *PaymentQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		QueueLength:     len(q.pending),
		IntervalSeconds: int64(q.interval / time.Second),
	}
}

// Shutdown stops accepting requests and lets the drain loop work through the
// backlog until ctx ends. Whatever is still waiting then fails with ErrQueueClosed.
func (q *PaymentQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
	}

	q.cancel()
	<-q.done
	return ctx.Err()
}

func (q *PaymentQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *PaymentQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				q.rejectPending()
				return
			}
		}
		var wait time.Duration
		if !q.lastStart.IsZero() {
			wait = q.interval - time.Since(q.lastStart)
		}
		q.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-q.ctx.Done():
				timer.Stop()
				q.rejectPending()
				return
			}
		}

		q.mu.Lock()
		entry := q.pending[0]
		q.lastStart = time.Now()
		q.mu.Unlock()

		q.logger.Info("sending payment request", "txnid", entry.request.TransactionID, "waited_ms", time.Since(entry.enqueuedAt).Milliseconds())
		params, err := q.signer.Sign(q.ctx, entry.request)

		q.mu.Lock()
		q.pending = q.pending[1:]
		q.mu.Unlock()

		entry.result <- queueResult{params: params, err: err}
	}
}

func (q *PaymentQueue) rejectPending() {
	q.mu.Lock()
	remaining := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, entry := range remaining {
		entry.result <- queueResult{err: ErrQueueClosed}
	}
	if len(remaining) > 0 {
		q.logger.Warn("payment queue shut down with pending requests", "rejected", len(remaining))
	}
}
