package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Job is one unit of work for a chat.
type Job func(ctx context.Context)

// Dispatcher runs jobs in submission order per chat while different chats
// proceed concurrently. Each chat with pending work has one worker goroutine;
// the worker exits once its mailbox is empty.
type Dispatcher struct {
	mu        sync.Mutex
	mailboxes map[int64][]Job
	closed    bool
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// NewDispatcher returns a dispatcher whose jobs receive a context derived
// from parent.
func NewDispatcher(parent context.Context, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Dispatcher{
		mailboxes: make(map[int64][]Job),
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}
}

// Submit enqueues job for chatID. It returns false after Close.
func (d *Dispatcher) Submit(chatID int64, job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	q, running := d.mailboxes[chatID]
	d.mailboxes[chatID] = append(q, job)
	if !running {
		d.wg.Add(1)
		go d.drain(chatID)
	}
	return true
}

// Active returns the number of chats with a running worker.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

func (d *Dispatcher) drain(chatID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.mailboxes[chatID]
		if len(q) == 0 {
			delete(d.mailboxes, chatID)
			d.mu.Unlock()
			return
		}
		job := q[0]
		q[0] = nil
		d.mailboxes[chatID] = q[1:]
		d.mu.Unlock()

		d.run(chatID, job)
	}
}

func (d *Dispatcher) run(chatID int64, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("chat job panicked",
				zap.Int64("chat_id", chatID),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	job(d.ctx)
}

// Close stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, running jobs are cancelled and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
