package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

var testNow = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type fakeObserver struct {
	mu      sync.Mutex
	got     []Message
	sendErr error
	block   bool
	closed  int
	inbox   chan []byte
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{inbox: make(chan []byte, 8)}
}

func (f *fakeObserver) Send(ctx context.Context, msg Message) error {
	f.mu.Lock()
	block, sendErr := f.block, f.sendErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if sendErr != nil {
		return sendErr
	}
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeObserver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed == 0 {
		close(f.inbox)
	}
	f.closed++
	return nil
}

func (f *fakeObserver) Read() ([]byte, error) {
	raw, ok := <-f.inbox
	if !ok {
		return nil, io.EOF
	}
	return raw, nil
}

func (f *fakeObserver) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.got...)
}

func (f *fakeObserver) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestHub(cfg Config) *Hub {
	return NewHub(cfg, zap.NewNop(), WithClock(fixedClock{}))
}

func TestPublishToJobIsScoped(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{})
	x, y := newFakeObserver(), newFakeObserver()
	hx, hy := hub.Connect(x), hub.Connect(y)
	require.True(t, hub.Subscribe(hx, "job-x"))
	require.True(t, hub.Subscribe(hy, "job-y"))

	hub.PublishToJob(context.Background(), "job-x",
		StatusChange("job-x", crawler.JobStatusPending, crawler.JobStatusCrawling, "", testNow))

	require.Len(t, x.messages(), 1)
	assert.Equal(t, TypeStatusChange, x.messages()[0].Type)
	assert.Equal(t, "job-x", x.messages()[0].JobID)
	assert.Empty(t, y.messages())
}

func TestPublishToJobWithoutSubscribersIsNoop(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{})
	o := newFakeObserver()
	hub.Connect(o)
	hub.PublishToJob(context.Background(), "nobody", Heartbeat(testNow))
	assert.Empty(t, o.messages())
}

func TestBroadcastReachesEveryObserver(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{})
	a, b := newFakeObserver(), newFakeObserver()
	hub.Subscribe(hub.Connect(a), "job-a")
	hub.Connect(b)

	hub.Broadcast(context.Background(), Heartbeat(testNow))

	for _, o := range []*fakeObserver{a, b} {
		msgs := o.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, TypeHeartbeat, msgs[0].Type)
		assert.Equal(t, SystemJobID, msgs[0].JobID)
		require.NotNil(t, msgs[0].ServerTime)
	}
}

func TestHeartbeatLoopReachesAllObservers(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{HeartbeatInterval: 10 * time.Millisecond})
	a, b := newFakeObserver(), newFakeObserver()
	hub.Subscribe(hub.Connect(a), "job-1")
	hub.Connect(b)

	hub.Start(context.Background())
	defer hub.Close()
	assert.True(t, hub.Stats().HeartbeatActive)

	require.Eventually(t, func() bool {
		return len(a.messages()) > 0 && len(b.messages()) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, TypeHeartbeat, a.messages()[0].Type)
}

func TestFailedSendEvictsObserver(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{})
	bad, good := newFakeObserver(), newFakeObserver()
	bad.sendErr = errors.New("broken pipe")
	hb := hub.Connect(bad)
	hg := hub.Connect(good)
	hub.Subscribe(hb, "job-1")
	hub.Subscribe(hg, "job-1")

	hub.PublishToJob(context.Background(), "job-1", Heartbeat(testNow))

	assert.Equal(t, 1, bad.closeCount())
	assert.Len(t, good.messages(), 1)
	stats := hub.Stats()
	assert.Equal(t, 1, stats.ActiveConnections)
	assert.Equal(t, 1, stats.JobSubscriptions)

	hub.PublishToJob(context.Background(), "job-1", Heartbeat(testNow))
	assert.Len(t, good.messages(), 2)
	assert.Empty(t, bad.messages())
}

func TestSlowObserverIsEvictedAfterTimeout(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{SendTimeout: 20 * time.Millisecond})
	slow := newFakeObserver()
	slow.block = true
	hub.Connect(slow)

	hub.Broadcast(context.Background(), Heartbeat(testNow))

	assert.Equal(t, 0, hub.Stats().ActiveConnections)
	assert.Equal(t, 1, slow.closeCount())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{})
	o := newFakeObserver()
	h := hub.Connect(o)
	hub.Subscribe(h, "job-1")
	hub.Subscribe(h, "job-2")

	hub.Disconnect(h)
	hub.Disconnect(h)

	assert.Equal(t, 1, o.closeCount())
	assert.Equal(t, Stats{}, hub.Stats())
	assert.False(t, hub.Subscribe(h, "job-3"))
}

func TestStatsCountsJobsWithSubscribers(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{})
	a, b := hub.Connect(newFakeObserver()), hub.Connect(newFakeObserver())
	hub.Subscribe(a, "job-1")
	hub.Subscribe(b, "job-1")
	hub.Subscribe(b, "job-2")

	stats := hub.Stats()
	assert.Equal(t, 2, stats.ActiveConnections)
	assert.Equal(t, 2, stats.JobSubscriptions)
	assert.False(t, stats.HeartbeatActive)

	hub.Disconnect(b)
	assert.Equal(t, 1, hub.Stats().JobSubscriptions)
}

func TestSubscribeRejectsEmptyJobID(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{})
	h := hub.Connect(newFakeObserver())
	assert.False(t, hub.Subscribe(h, ""))
	assert.False(t, hub.Subscribe(Handle("missing"), "job-1"))
}

func TestHandleClientMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		wantType MessageType
		wantCode string
	}{
		{name: "ping", raw: `{"type":"ping"}`, wantType: TypePong},
		{name: "unknown", raw: `{"type":"dance"}`, wantType: TypeError, wantCode: CodeUnknownMessage},
		{name: "garbage", raw: `not json`, wantType: TypeError, wantCode: CodeInvalidMessage},
		{name: "subscribe without job", raw: `{"type":"subscribe"}`, wantType: TypeError, wantCode: CodeInvalidMessage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			hub := newTestHub(Config{})
			o := newFakeObserver()
			h := hub.Connect(o)

			hub.HandleClientMessage(context.Background(), h, []byte(tc.raw))

			msgs := o.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, tc.wantType, msgs[0].Type)
			assert.Equal(t, tc.wantCode, msgs[0].ErrorCode)
			if tc.wantType == TypeError {
				require.NotNil(t, msgs[0].IsFatal)
				assert.False(t, *msgs[0].IsFatal)
			}
		})
	}
}

func TestSubscribeMessageAddsSubscription(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{})
	o := newFakeObserver()
	h := hub.Connect(o)

	hub.HandleClientMessage(context.Background(), h, []byte(`{"type":"subscribe","job_id":"job-9"}`))
	assert.Empty(t, o.messages())

	hub.PublishToJob(context.Background(), "job-9", Heartbeat(testNow))
	assert.Len(t, o.messages(), 1)
}

func TestServeRunsUntilStreamCloses(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{})
	o := newFakeObserver()
	connected := make(chan Handle, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Serve(context.Background(), o, "job-1", func(h Handle) { connected <- h })
	}()

	h := <-connected
	assert.Equal(t, 1, hub.Stats().JobSubscriptions)

	ping, err := json.Marshal(ClientMessage{Type: "ping"})
	require.NoError(t, err)
	o.inbox <- ping
	require.Eventually(t, func() bool { return len(o.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, TypePong, o.messages()[0].Type)

	hub.Disconnect(h)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serve did not return after disconnect")
	}
	assert.Equal(t, 0, hub.Stats().ActiveConnections)
}

func TestCloseStopsHeartbeatAndDisconnects(t *testing.T) {
	t.Parallel()
	hub := newTestHub(Config{HeartbeatInterval: time.Hour})
	o := newFakeObserver()
	hub.Connect(o)
	hub.Start(context.Background())

	hub.Close()

	assert.False(t, hub.Stats().HeartbeatActive)
	assert.Equal(t, 0, hub.Stats().ActiveConnections)
	assert.Equal(t, 1, o.closeCount())
}
