package fetch

import (
	"context"
	"sync"
)

// Request asks for one asset to be downloaded.
type Request struct {
	URL   string
	Trail []string
}

// Queue is a FIFO of download requests that refuses a URL while it is queued
// or being downloaded. Dedup and enqueue happen under one lock, so a URL is
// never handed to two workers at once.
type Queue struct {
	mu      sync.Mutex
	items   []Request
	pending map[string]bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewQueue returns an empty, open queue.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string]bool),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Enqueue adds a request. It returns false when the URL is already queued or
// in flight, or the queue is closed.
func (q *Queue) Enqueue(url string, trail []string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.pending[url] {
		return false
	}
	q.pending[url] = true
	q.items = append(q.items, Request{URL: url, Trail: trail})
	q.signal()
	return true
}

// Pull blocks until a request is available. It returns false once the queue
// is closed and drained, or ctx is done.
func (q *Queue) Pull(ctx context.Context) (Request, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			req := q.items[0]
			q.items[0] = Request{}
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return req, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Request{}, false
		}

		select {
		case <-ctx.Done():
			return Request{}, false
		case <-q.wake:
		case <-q.done:
		}
	}
}

// Done releases url once its download finished, so it may be queued again.
func (q *Queue) Done(url string) {
	q.mu.Lock()
	delete(q.pending, url)
	q.mu.Unlock()
}

// Close stops accepting requests. Queued requests are still handed out.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Len returns the number of requests waiting for a worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// signal wakes one waiting worker. Callers hold mu.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
