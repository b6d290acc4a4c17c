package mail

import (
	"context"
	"log"
	"sync"
	"time"
)

// DispatchResult records the outcome of a best-effort send. Callers inspect
// or discard it; it never turns into the failure of their operation.
type DispatchResult struct {
	Kind Kind
	To   string
	Err  error
}

// OK reports whether the message was handed to the gateway successfully
func (r DispatchResult) OK() bool {
	return r.Err == nil
}

// Dispatcher sends email as a side effect of committed state changes
type Dispatcher struct {
	gateway Gateway
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wraps gateway with a per-send timeout
func NewDispatcher(gateway Gateway, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{gateway: gateway, timeout: timeout}
}

// SendBestEffort delivers msg, logging any failure. Cancellation of ctx
// does not cut the send short; only the dispatcher's own timeout does.
func (d *Dispatcher) SendBestEffort(ctx context.Context, msg Message) DispatchResult {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	result := DispatchResult{Kind: msg.Kind, To: msg.To}
	if err := d.gateway.Send(sendCtx, msg); err != nil {
		log.Printf("email %s to %s failed: %v", msg.Kind, msg.To, err)
		result.Err = err
	}
	return result
}

// SendDetached delivers msg in the background so the caller's response
// time does not depend on whether an email was sent.
func (d *Dispatcher) SendDetached(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.SendBestEffort(context.Background(), msg)
	}()
}

// Wait blocks until detached sends finish or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
