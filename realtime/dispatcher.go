package realtime

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Signal identifies a lifecycle or data event emitted by the channel.
type Signal string

const (
	SignalConnected        Signal = "CONNECTED"
	SignalDisconnected     Signal = "DISCONNECTED"
	SignalReconnecting     Signal = "RECONNECTING"
	SignalConnectionFailed Signal = "CONNECTION_FAILED"
	SignalNewData          Signal = "NEW_DATA_AVAILABLE"
)

// DisconnectInfo is the payload delivered with SignalDisconnected.
type DisconnectInfo struct {
	Reason string
}

// ReconnectInfo is the payload delivered with SignalReconnecting.
type ReconnectInfo struct {
	Attempt int
	Delay   time.Duration
}

// Subscriber receives channel signals. The payload is signal-specific and
// may be nil.
type Subscriber func(sig Signal, payload any)

type subscription struct {
	id int
	fn Subscriber
}

// Dispatcher fans signals out to subscribers in registration order. A
// panicking subscriber is isolated and logged so it cannot suppress
// delivery to the remaining subscribers. No persistence, no filtering.
type Dispatcher struct {
	logger *slog.Logger

	mu   sync.Mutex
	next int
	subs []subscription
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the structured logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return d
}

// Subscribe registers fn and returns a handle for Unsubscribe.
// Subscribers are notified in registration order.
func (d *Dispatcher) Subscribe(fn Subscriber) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.subs = append(d.subs, subscription{id: d.next, fn: fn})
	return d.next
}

// Unsubscribe removes the subscriber registered under id. Unknown handles
// are ignored.
func (d *Dispatcher) Unsubscribe(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

// Notify delivers sig and payload to every subscriber in registration
// order.
func (d *Dispatcher) Notify(sig Signal, payload any) {
	d.mu.Lock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()

	for _, s := range subs {
		d.dispatch(s, sig, payload)
	}
}

func (d *Dispatcher) dispatch(s subscription, sig Signal, payload any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("subscriber panicked", "signal", sig, "panic", r)
		}
	}()
	s.fn(sig, payload)
}
