package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/SalonBot/internal/models"
)

// HandlerFunc processes one event.
type HandlerFunc func(ctx context.Context, evt models.InboundEvent)

// Dispatcher serializes events per contact while running distinct contacts in parallel.
//
// Each contact with pending events has a FIFO mailbox drained by exactly one goroutine,
// which exits once the mailbox is empty.
type Dispatcher struct {
	handle HandlerFunc
	ctx    context.Context

	mu        sync.Mutex
	mailboxes map[string][]models.InboundEvent
	closed    bool
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Handlers run with ctx, which should outlive Stop
// so in-flight messages can finish.
func NewDispatcher(ctx context.Context, handle HandlerFunc) *Dispatcher {
	return &Dispatcher{
		handle:    handle,
		ctx:       ctx,
		mailboxes: make(map[string][]models.InboundEvent),
	}
}

// Submit enqueues an event. It returns false after Stop.
func (d *Dispatcher) Submit(evt models.InboundEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	queue, running := d.mailboxes[evt.ContactID]
	d.mailboxes[evt.ContactID] = append(queue, evt)
	if !running {
		d.wg.Add(1)
		go d.drain(evt.ContactID)
	}
	return true
}

func (d *Dispatcher) drain(contactID string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.mailboxes[contactID]
		if len(queue) == 0 {
			delete(d.mailboxes, contactID)
			d.mu.Unlock()
			return
		}
		evt := queue[0]
		d.mailboxes[contactID] = queue[1:]
		d.mu.Unlock()

		d.safeHandle(evt)
	}
}

func (d *Dispatcher) safeHandle(evt models.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher: handler panicked", "panic", r, "contactID", evt.ContactID, "messageID", evt.MessageID)
		}
	}()
	d.handle(d.ctx, evt)
}

// Run submits events from in until it is closed or ctx is done, then stops the dispatcher
// and waits for queued events to finish.
func (d *Dispatcher) Run(ctx context.Context, in <-chan models.InboundEvent) error {
	slog.Info("Dispatcher.Run: started")
	defer func() {
		d.Stop()
		slog.Info("Dispatcher.Run: stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-in:
			if !ok {
				return nil
			}
			d.Submit(evt)
		}
	}
}

// Stop rejects new events and waits for every mailbox to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// Pending returns the number of queued events that have not started processing.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.mailboxes {
		n += len(q)
	}
	return n
}
