package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type syncResult struct {
	events []RemoteEvent
	next   string
	err    error
}

// fakeConn 为脚本化的协议句柄：Sync 从 results 中依次取结果，没有结果时阻塞。
type fakeConn struct {
	userID      string
	displayName string
	displayErr  error

	results      chan syncResult
	syncStarted  chan struct{}
	ignoreCancel bool

	dir      Directory
	sendErrs []error

	mu       sync.Mutex
	cursors  []*string
	sent     []OutgoingMessage
	dirCalls int

	canceled atomic.Int32
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{
		userID:      userID,
		results:     make(chan syncResult, 16),
		syncStarted: make(chan struct{}, 64),
	}
}

func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Sync(ctx context.Context, cursor *string) ([]RemoteEvent, string, error) {
	c.mu.Lock()
	if cursor != nil {
		v := *cursor
		c.cursors = append(c.cursors, &v)
	} else {
		c.cursors = append(c.cursors, nil)
	}
	c.mu.Unlock()
	select {
	case c.syncStarted <- struct{}{}:
	default:
	}

	if c.ignoreCancel {
		r := <-c.results
		return r.events, r.next, r.err
	}
	select {
	case r := <-c.results:
		return r.events, r.next, r.err
	case <-ctx.Done():
		c.canceled.Inc()
		return nil, "", ctx.Err()
	}
}

func (c *fakeConn) SendMessage(_ context.Context, msg OutgoingMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		return "", err
	}
	return "$event" + msg.TxnID, nil
}

func (c *fakeConn) FetchDirectory(context.Context) (Directory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirCalls++
	return c.dir, nil
}

func (c *fakeConn) DisplayName(context.Context) (string, error) {
	return c.displayName, c.displayErr
}

func (c *fakeConn) sentMessages() []OutgoingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OutgoingMessage(nil), c.sent...)
}

func (c *fakeConn) syncCursors() []*string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*string(nil), c.cursors...)
}

func (c *fakeConn) waitSync(t require.TestingT) {
	select {
	case <-c.syncStarted:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "sync not started")
	}
}

// fakeConnector 按连接顺序创建 fakeConn，可通过 prepare 预先定制。
type fakeConnector struct {
	authErr   error
	authBlock chan struct{}
	prepare   func(c *fakeConn)

	mu     sync.Mutex
	conns  []*fakeConn
	logins []string
	ready  chan *fakeConn
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{ready: make(chan *fakeConn, 64)}
}

func (f *fakeConnector) Login(ctx context.Context, server, username, _ string) (Conn, error) {
	return f.auth(ctx, server, "@"+username+":"+server)
}

func (f *fakeConnector) RegisterGuest(ctx context.Context, server string) (Conn, error) {
	return f.auth(ctx, server, "@guest:"+server)
}

func (f *fakeConnector) auth(ctx context.Context, server, userID string) (Conn, error) {
	f.mu.Lock()
	f.logins = append(f.logins, server)
	f.mu.Unlock()

	if f.authBlock != nil {
		select {
		case <-f.authBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.authErr != nil {
		return nil, f.authErr
	}

	conn := newFakeConn(userID)
	if f.prepare != nil {
		f.prepare(conn)
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	f.ready <- conn
	return conn, nil
}

// nextConn 等待下一个认证成功的连接。
func (f *fakeConnector) nextConn(t require.TestingT) *fakeConn {
	select {
	case c := <-f.ready:
		return c
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no connection authenticated")
		return nil
	}
}

func testConfig() Config {
	return Config{
		CommandQueueSize:     16,
		EventQueueSize:       64,
		MaxSyncRetries:       3,
		SyncBackoffInitial:   time.Millisecond,
		SyncBackoffMax:       2 * time.Millisecond,
		CommandRetryAttempts: 3,
		WorkerPoolSize:       4,
		SendRatePerSecond:    1000,
		SendBurst:            1000,
		DirectoryCacheTTL:    time.Minute,
	}
}

type harness struct {
	t         require.TestingT
	in        *Inbound
	out       *Outbound
	m         *Manager
	connector *fakeConnector

	cancel context.CancelFunc
	done   chan error
	once   sync.Once
	runErr error
}

func newHarness(t require.TestingT, cfg Config, connector *fakeConnector, opts ...Option) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:         t,
		in:        NewInbound(cfg.CommandQueueSize),
		out:       NewOutbound(cfg.EventQueueSize),
		connector: connector,
		cancel:    cancel,
		done:      make(chan error, 1),
	}
	h.m = NewManager(cfg, connector, h.in, h.out, opts...)
	go func() {
		h.done <- h.m.Run(ctx)
	}()
	return h
}

func (h *harness) send(cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.in.Send(ctx, cmd))
}

// wait 等待 Run 返回以及所有后台任务退出。
func (h *harness) wait() error {
	h.once.Do(func() {
		select {
		case h.runErr = <-h.done:
		case <-time.After(5 * time.Second):
			require.FailNow(h.t, "manager did not stop")
		}
		h.m.Wait()
		h.cancel()
	})
	return h.runErr
}

func (h *harness) quit() error {
	h.send(Quit{})
	return h.wait()
}

// stop 用于测试清理，忽略管理器已退出的情况。
func (h *harness) stop() {
	_ = h.in.Send(context.Background(), Quit{})
	_ = h.wait()
}

func (h *harness) next() FrontendEvent {
	ev, ok := h.out.Poll(5 * time.Second)
	require.True(h.t, ok, "no frontend event")
	return ev
}

func (h *harness) expectNone(wait time.Duration) {
	ev, ok := h.out.Poll(wait)
	require.False(h.t, ok, "unexpected frontend event %#v", ev)
}

func (h *harness) list() []Info {
	reply := make(chan []Info, 1)
	h.send(ListSessions{Reply: reply})
	select {
	case infos := <-reply:
		return infos
	case <-time.After(5 * time.Second):
		require.FailNow(h.t, "list sessions timeout")
		return nil
	}
}

func newTestHarness(t *testing.T, cfg Config, connector *fakeConnector, opts ...Option) *harness {
	h := newHarness(t, cfg, connector, opts...)
	t.Cleanup(h.stop)
	return h
}
