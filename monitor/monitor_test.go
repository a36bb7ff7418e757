package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djahasiel101600/nia-attendance/attendance"
	"github.com/djahasiel101600/nia-attendance/realtime"
)

// fakeFetcher serves canned results and can hold a fetch open to force
// completion-order races.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	results []*attendance.Result
	err     error
	// gate, when non-nil, blocks the fetch numbered gateCall until released.
	gate     chan struct{}
	gateCall int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, _ attendance.Query) (*attendance.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	gate := f.gate
	var result *attendance.Result
	if len(f.results) > 0 {
		result = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	err := f.err
	f.mu.Unlock()

	if gate != nil && call == f.gateCall {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &attendance.Result{}
	}
	return result, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeChannel records lifecycle calls and lets tests inject signals.
type fakeChannel struct {
	dispatcher *realtime.Dispatcher
	mu         sync.Mutex
	started    []string
	stopped    int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{dispatcher: realtime.NewDispatcher()}
}

func (c *fakeChannel) Start(token, cookies string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, token)
	return true
}

func (c *fakeChannel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
}

func (c *fakeChannel) Subscribe(fn realtime.Subscriber) int { return c.dispatcher.Subscribe(fn) }
func (c *fakeChannel) Unsubscribe(id int)                   { c.dispatcher.Unsubscribe(id) }
func (c *fakeChannel) Status() realtime.Status              { return realtime.Status{} }

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) ConnectionToken(context.Context) (string, error) {
	return f.token, f.err
}

func record(id int64) attendance.Record {
	return attendance.Record{ID: id, EmployeeID: "E001", Status: attendance.StatusGranted}
}

func noCookies() string { return "" }

func TestStartConnectsChannelAndLoadsInitialData(t *testing.T) {
	fetcher := &fakeFetcher{results: []*attendance.Result{
		{Records: []attendance.Record{record(1)}, TotalCount: 1},
	}}
	ch := newFakeChannel()
	m := New("E001", fetcher, ch, &fakeTokens{token: "tok-1"}, func() string { return "sid=xyz" })

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return len(m.Records()) == 1 },
		2*time.Second, 5*time.Millisecond)

	ch.mu.Lock()
	started := append([]string(nil), ch.started...)
	ch.mu.Unlock()
	assert.Equal(t, []string{"tok-1"}, started)
	assert.False(t, m.Status().Polling)
}

func TestNewDataSignalTriggersRefresh(t *testing.T) {
	fetcher := &fakeFetcher{}
	ch := newFakeChannel()
	m := New("E001", fetcher, ch, &fakeTokens{token: "tok"}, noCookies)

	m.Start(context.Background())
	defer m.Stop()
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	ch.dispatcher.Notify(realtime.SignalNewData, nil)
	ch.dispatcher.Notify(realtime.SignalNewData, nil)

	require.Eventually(t, func() bool { return fetcher.callCount() == 3 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.Status().Signals)
}

func TestStaleFetchDoesNotOverwriteNewerData(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{
		results: []*attendance.Result{
			{Records: []attendance.Record{record(1)}}, // slow, issued first
			{Records: []attendance.Record{record(2)}}, // fast, issued second
		},
		gate:     gate,
		gateCall: 1,
	}
	ch := newFakeChannel()
	m := New("E001", fetcher, ch, &fakeTokens{err: errors.New("no token")}, noCookies,
		WithPollInterval(time.Hour))
	m.mu.Lock()
	m.running = true
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()
	defer m.Stop()

	done1 := make(chan struct{})
	go func() { m.Refresh(context.Background()); close(done1) }()
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 },
		2*time.Second, time.Millisecond)

	// The second fetch is issued after the first and completes immediately.
	m.Refresh(context.Background())
	require.Len(t, m.Records(), 1)
	assert.Equal(t, int64(2), m.Records()[0].ID)

	// Now the slow first fetch completes; its result must be dropped.
	close(gate)
	<-done1
	require.Len(t, m.Records(), 1)
	assert.Equal(t, int64(2), m.Records()[0].ID, "stale fetch overwrote newer data")
}

func TestPollingFallbackWhenNoToken(t *testing.T) {
	fetcher := &fakeFetcher{}
	ch := newFakeChannel()
	m := New("E001", fetcher, ch, &fakeTokens{err: errors.New("negotiate down")}, noCookies,
		WithPollInterval(10*time.Millisecond))

	m.Start(context.Background())
	defer m.Stop()

	assert.True(t, m.Status().Polling)
	require.Eventually(t, func() bool { return fetcher.callCount() >= 3 },
		2*time.Second, 5*time.Millisecond)

	// The channel was never started.
	ch.mu.Lock()
	assert.Empty(t, ch.started)
	ch.mu.Unlock()
}

func TestConnectionFailedDowngradesToPolling(t *testing.T) {
	fetcher := &fakeFetcher{}
	ch := newFakeChannel()
	m := New("E001", fetcher, ch, &fakeTokens{token: "tok"}, noCookies,
		WithPollInterval(10*time.Millisecond))

	m.Start(context.Background())
	defer m.Stop()
	assert.False(t, m.Status().Polling)

	ch.dispatcher.Notify(realtime.SignalConnectionFailed, nil)
	require.Eventually(t, func() bool { return m.Status().Polling },
		2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return fetcher.callCount() >= 3 },
		2*time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotentAndStopsEverything(t *testing.T) {
	fetcher := &fakeFetcher{}
	ch := newFakeChannel()
	m := New("E001", fetcher, ch, &fakeTokens{token: "tok"}, noCookies,
		WithPollInterval(10*time.Millisecond))

	m.Start(context.Background())
	require.Eventually(t, func() bool { return fetcher.callCount() >= 1 },
		2*time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()

	ch.mu.Lock()
	assert.Equal(t, 1, ch.stopped)
	ch.mu.Unlock()

	// Signals after Stop are ignored.
	before := fetcher.callCount()
	ch.dispatcher.Notify(realtime.SignalNewData, nil)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, fetcher.callCount())
}

func TestOnUpdateCallback(t *testing.T) {
	fetcher := &fakeFetcher{results: []*attendance.Result{
		{Records: []attendance.Record{record(7)}},
	}}
	ch := newFakeChannel()
	updates := make(chan []attendance.Record, 4)
	m := New("E001", fetcher, ch, &fakeTokens{token: "tok"}, noCookies,
		WithOnUpdate(func(recs []attendance.Record) { updates <- recs }))

	m.Start(context.Background())
	defer m.Stop()

	select {
	case recs := <-updates:
		require.Len(t, recs, 1)
		assert.Equal(t, int64(7), recs[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update callback")
	}
}
