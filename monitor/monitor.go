// Package monitor wires the realtime channel to the attendance fetcher:
// it refreshes the record set when the server pushes an update, falls back
// to interval polling when no realtime connection can be established, and
// keeps a shared snapshot that stale fetches can never overwrite.
package monitor

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djahasiel101600/nia-attendance/attendance"
	"github.com/djahasiel101600/nia-attendance/realtime"
)

const defaultPollInterval = 60 * time.Second

// Fetcher is the slice of attendance.Client the monitor depends on.
type Fetcher interface {
	Fetch(ctx context.Context, employeeID string, q attendance.Query) (*attendance.Result, error)
}

// TokenSource is the slice of realtime.Negotiator the monitor depends on.
type TokenSource interface {
	ConnectionToken(ctx context.Context) (string, error)
}

// Channel is the slice of realtime.Channel the monitor depends on.
type Channel interface {
	Start(connectionToken, sessionCookies string) bool
	Stop()
	Subscribe(fn realtime.Subscriber) int
	Unsubscribe(id int)
	Status() realtime.Status
}

// Status is a point-in-time snapshot of the monitor.
type Status struct {
	Connection  realtime.Status
	Polling     bool
	Signals     int
	LastUpdate  time.Time
	RecordCount int
}

// Monitor owns the live-updating view of one employee's attendance
// records.
type Monitor struct {
	employeeID   string
	fetcher      Fetcher
	channel      Channel
	tokens       TokenSource
	cookies      func() string
	pollInterval time.Duration
	length       int
	logger       *slog.Logger
	onUpdate     func([]attendance.Record)

	mu         sync.Mutex
	running    bool
	polling    bool
	subID      int
	records    []attendance.Record
	lastUpdate time.Time
	signals    int
	// Fetches carry a monotonic sequence number; a completion only lands
	// if no higher-numbered fetch has landed before it, so a slow stale
	// fetch cannot overwrite newer data.
	issued  uint64
	applied uint64

	pollDone chan struct{}
	pollStop chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval sets the fallback polling interval. Default: 60s.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.pollInterval = d
	}
}

// WithRecordLength sets the number of records fetched per refresh.
func WithRecordLength(n int) Option {
	return func(m *Monitor) {
		m.length = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithOnUpdate registers a callback invoked with the new record set every
// time a fetch lands. The callback runs on the fetch goroutine.
func WithOnUpdate(fn func([]attendance.Record)) Option {
	return func(m *Monitor) {
		m.onUpdate = fn
	}
}

// New creates a Monitor for employeeID. cookies supplies the current
// session cookie for the realtime dial (typically auth.Authenticator's
// SessionCookies).
func New(employeeID string, fetcher Fetcher, channel Channel, tokens TokenSource, cookies func() string, opts ...Option) *Monitor {
	m := &Monitor{
		employeeID:   employeeID,
		fetcher:      fetcher,
		channel:      channel,
		tokens:       tokens,
		cookies:      cookies,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cookies == nil {
		m.cookies = func() string { return "" }
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return m
}

// Start begins monitoring: an initial fetch, then realtime updates when a
// connection token can be negotiated, interval polling otherwise. Calling
// Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.baseCtx, m.cancel = context.WithCancel(ctx)
	runCtx := m.baseCtx
	m.mu.Unlock()

	go m.Refresh(runCtx)

	token, err := m.tokens.ConnectionToken(runCtx)
	if err != nil {
		m.logger.Info("no realtime token, falling back to polling", "error", err)
		m.startPolling()
		return
	}

	m.mu.Lock()
	m.subID = m.channel.Subscribe(m.handleSignal)
	m.mu.Unlock()

	if !m.channel.Start(token, m.cookies()) {
		m.logger.Warn("realtime channel failed to start, falling back to polling")
		m.startPolling()
	}
}

// Stop unsubscribes from the channel, closes it, stops polling and
// cancels outstanding refreshes. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	subID := m.subID
	m.subID = 0
	cancel := m.cancel
	m.mu.Unlock()

	if subID != 0 {
		m.channel.Unsubscribe(subID)
	}
	m.channel.Stop()
	m.stopPolling()
	if cancel != nil {
		cancel()
	}
}

// handleSignal reacts to channel lifecycle and data events.
func (m *Monitor) handleSignal(sig realtime.Signal, payload any) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	ctx := m.baseCtx
	if sig == realtime.SignalNewData {
		m.signals++
	}
	m.mu.Unlock()

	switch sig {
	case realtime.SignalNewData, realtime.SignalConnected:
		go m.Refresh(ctx)
	case realtime.SignalConnectionFailed:
		// Realtime is gone for good; downgrade to polling so the view
		// keeps moving.
		m.logger.Warn("realtime channel failed, downgrading to polling")
		m.startPolling()
	case realtime.SignalDisconnected:
		if info, ok := payload.(realtime.DisconnectInfo); ok {
			m.logger.Info("realtime disconnected", "reason", info.Reason)
		}
	}
}

// Refresh fetches the current record set. Concurrent refreshes may race;
// the one issued last wins regardless of completion order.
func (m *Monitor) Refresh(ctx context.Context) {
	m.mu.Lock()
	m.issued++
	seq := m.issued
	m.mu.Unlock()

	fetchID := uuid.NewString()
	result, err := m.fetcher.Fetch(ctx, m.employeeID, attendance.Query{Length: m.length})
	if err != nil {
		m.logger.Warn("refresh failed", "fetch_id", fetchID, "seq", seq, "error", err)
		return
	}

	m.mu.Lock()
	if seq < m.applied {
		m.mu.Unlock()
		m.logger.Debug("dropping stale fetch result", "fetch_id", fetchID, "seq", seq)
		return
	}
	m.applied = seq
	m.records = result.Records
	m.lastUpdate = time.Now()
	onUpdate := m.onUpdate
	records := m.records
	m.mu.Unlock()

	m.logger.Debug("record set updated", "fetch_id", fetchID, "seq", seq, "records", len(records))
	if onUpdate != nil {
		onUpdate(records)
	}
}

// Records returns a copy of the most recent record set.
func (m *Monitor) Records() []attendance.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Status returns a snapshot of the monitor and its channel.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connection:  m.channel.Status(),
		Polling:     m.polling,
		Signals:     m.signals,
		LastUpdate:  m.lastUpdate,
		RecordCount: len(m.records),
	}
}

// startPolling launches the fallback polling loop. A second call while a
// loop is running is a no-op.
func (m *Monitor) startPolling() {
	m.mu.Lock()
	if m.polling || !m.running {
		m.mu.Unlock()
		return
	}
	m.polling = true
	m.pollStop = make(chan struct{})
	m.pollDone = make(chan struct{})
	stop, done, ctx := m.pollStop, m.pollDone, m.baseCtx
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Refresh(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Monitor) stopPolling() {
	m.mu.Lock()
	if !m.polling {
		m.mu.Unlock()
		return
	}
	m.polling = false
	stop, done := m.pollStop, m.pollDone
	m.pollStop, m.pollDone = nil, nil
	m.mu.Unlock()

	close(stop)
	<-done
}
