package index

import (
	"context"
	"sync"
	"time"
)

// Logger matches the narrow logging interface used across the service layer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// RetryQueue retries failed index submissions independently of the pipeline
// job that produced them. Entries are retried with exponential backoff until
// they succeed or the queue is closed; the pipeline never blocks on it.
type RetryQueue struct {
	indexer  Indexer
	logger   Logger
	interval time.Duration
	maxDelay time.Duration

	mu      sync.Mutex
	pending map[string]retryItem
	closed  bool

	wake chan struct{}
	done chan struct{}
}

type retryItem struct {
	entry   Entry
	attempt int
	nextTry time.Time
}

// NewRetryQueue creates a retry queue. interval is the base backoff (zero
// defaults to 5s); maxDelay caps the backoff (zero defaults to 5m). Call
// Close to stop the background worker.
func NewRetryQueue(indexer Indexer, logger Logger, interval, maxDelay time.Duration) *RetryQueue {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	q := &RetryQueue{
		indexer:  indexer,
		logger:   logger,
		interval: interval,
		maxDelay: maxDelay,
		pending:  make(map[string]retryItem),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue schedules an entry for retry. A newer entry for the same document
// replaces the queued one.
func (q *RetryQueue) Enqueue(entry Entry) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending[entry.DocumentID] = retryItem{entry: entry, nextTry: time.Now().Add(q.interval)}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PendingCount returns how many entries await retry.
func (q *RetryQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the worker. Entries still pending are dropped; callers that
// need durability flush before shutdown.
func (q *RetryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

func (q *RetryQueue) run() {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		case <-ticker.C:
		}
		q.flushDue()
	}
}

func (q *RetryQueue) flushDue() {
	now := time.Now()

	q.mu.Lock()
	due := make([]retryItem, 0, len(q.pending))
	for _, item := range q.pending {
		if !item.nextTry.After(now) {
			due = append(due, item)
		}
	}
	q.mu.Unlock()

	for _, item := range due {
		err := q.indexer.Index(context.Background(), item.entry)

		q.mu.Lock()
		current, ok := q.pending[item.entry.DocumentID]
		if !ok {
			q.mu.Unlock()
			continue
		}
		if err == nil {
			delete(q.pending, item.entry.DocumentID)
			q.mu.Unlock()
			if q.logger != nil {
				q.logger.Info("index entry retried successfully", "document_id", item.entry.DocumentID, "attempts", item.attempt+1)
			}
			continue
		}

		current.attempt++
		delay := q.interval << uint(current.attempt)
		if delay > q.maxDelay || delay <= 0 {
			delay = q.maxDelay
		}
		current.nextTry = now.Add(delay)
		q.pending[item.entry.DocumentID] = current
		q.mu.Unlock()

		if q.logger != nil {
			q.logger.Warn("index retry failed", "document_id", item.entry.DocumentID, "attempt", current.attempt, "error", err)
		}
	}
}
