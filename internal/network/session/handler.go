package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/patrickmn/go-cache"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/fest-go/internal/network"
	"github.com/lk2023060901/fest-go/pkg/log"
	"github.com/lk2023060901/fest-go/pkg/metrics"
	"github.com/lk2023060901/fest-go/pkg/util/conc"
	"github.com/lk2023060901/fest-go/pkg/util/merr"
	"github.com/lk2023060901/fest-go/pkg/util/retry"
)

// dispatch 将会话命令提交到协程池异步执行，不阻塞管理循环。
func (m *Manager) dispatch(cmd SessionCommand) {
	s, ctx, ok := m.registry.lookup(cmd.ID)
	if !ok {
		m.Logger().Warn("session command for unknown session",
			zap.String("op", opName(cmd.Op)),
			zap.Error(merr.WrapErrSessionNotFound(uint64(cmd.ID))))
		return
	}
	if cmd.Op == nil {
		m.Logger().Warn("ignore session command without op",
			log.FieldSessionID(uint64(cmd.ID)),
			zap.Error(merr.WrapErrParameterMissing("op")))
		return
	}

	ctx = log.WithFields(log.WithSession(ctx, uint64(s.ID()), s.ServerAddress()),
		zap.String("op", cmd.Op.Name()))

	var accepted atomic.Bool
	m.tasks.Add(1)
	future := m.pool.Submit(func() (struct{}, error) {
		accepted.Store(true)
		defer m.tasks.Done()
		m.runOp(ctx, s, cmd.Op)
		return struct{}{}, nil
	})

	m.observePool()

	// 非阻塞池已满时 Submit 会立即返回错误，任务不会执行。
	select {
	case <-future.Done():
		if err := future.Err(); err != nil && !accepted.Load() {
			m.Logger().RatedWarn(10, "session op rejected, worker pool full",
				log.FieldSessionID(uint64(cmd.ID)),
				zap.Int("running", m.pool.Running()),
				zap.Int("free", m.pool.Free()))
			conc.Go(func() (struct{}, error) {
				defer m.tasks.Done()
				m.reportOpFailure(ctx, s, cmd.Op, err)
				return struct{}{}, nil
			})
		}
	default:
	}
}

// observePool 更新协程池 worker 指标。
func (m *Manager) observePool() {
	metrics.SessionOpWorkers.WithLabelValues(metrics.RunningLabel).Set(float64(m.pool.Running()))
	metrics.SessionOpWorkers.WithLabelValues(metrics.FreeLabel).Set(float64(m.pool.Free()))
}

// runOp 执行单个会话操作，结果与错误都通过 Outbound 报告。
func (m *Manager) runOp(ctx context.Context, s *Session, op Op) {
	conn, ok := s.Conn()
	if !ok {
		m.reportOpFailure(ctx, s, op, merr.WrapErrSessionNotReady(uint64(s.ID())))
		return
	}

	switch op := op.(type) {
	case FetchDirectory:
		m.fetchDirectory(ctx, s, conn)
	case SendTextMessage:
		m.sendText(ctx, s, conn, op)
	default:
		m.reportOpFailure(ctx, s, op, errors.Wrapf(merr.ErrOperationNotSupported, "op %s", op.Name()))
	}
}

func (m *Manager) fetchDirectory(ctx context.Context, s *Session, conn Conn) {
	if rooms, ok := m.dirCache.Get(s.ID()); ok {
		log.Ctx(ctx).RatedDebug(5, "directory served from cache", zap.Int("rooms", len(rooms)))
		m.emit(ctx, DirectoryListing{SessionID: s.ID(), Rooms: rooms})
		return
	}

	var dir Directory
	err := retry.Do(ctx, func() error {
		var err error
		dir, err = conn.FetchDirectory(ctx)
		return err
	}, m.retryOptions()...)
	if err != nil {
		m.reportOpFailure(ctx, s, FetchDirectory{}, merr.WrapErrOpFetchFailed(err))
		return
	}

	m.dirCache.Set(s.ID(), dir.Rooms)
	m.emit(ctx, DirectoryListing{SessionID: s.ID(), Rooms: dir.Rooms})
}

func (m *Manager) sendText(ctx context.Context, s *Session, conn Conn, op SendTextMessage) {
	if op.RoomID == "" {
		m.reportOpFailure(ctx, s, op, merr.WrapErrParameterMissing("room_id"))
		return
	}
	if err := s.limiter.Wait(ctx); err != nil {
		m.reportOpFailure(ctx, s, op, merr.WrapErrServiceRateLimit(float64(s.limiter.Limit()), err.Error()))
		return
	}

	// 重试复用同一个事务 ID，由服务器去重。
	msg := OutgoingMessage{RoomID: op.RoomID, Content: op.Content, TxnID: m.newTxnID()}
	var eventID string
	err := retry.Do(ctx, func() error {
		var err error
		eventID, err = conn.SendMessage(ctx, msg)
		return err
	}, m.retryOptions()...)
	if err != nil {
		m.reportOpFailure(ctx, s, op, merr.WrapErrOpSendFailed(op.RoomID, err))
		return
	}

	log.Ctx(ctx).Debug("message sent", zap.String("room", op.RoomID), zap.String("eventID", eventID))
	m.emit(ctx, MessageSent{SessionID: s.ID(), RoomID: op.RoomID, EventID: eventID, TxnID: msg.TxnID})
}

func (m *Manager) retryOptions() []retry.Option {
	return []retry.Option{
		retry.Attempts(m.cfg.CommandRetryAttempts),
		retry.Sleep(m.cfg.SyncBackoffInitial),
		retry.MaxSleepTime(m.cfg.SyncBackoffMax),
		retry.RetryErr(merr.IsRetryableErr),
	}
}

// reportOpFailure 记录操作失败并通知前端。会话已被取消时只记录日志。
func (m *Manager) reportOpFailure(ctx context.Context, s *Session, op Op, err error) {
	logger := log.Ctx(ctx)
	if ctx.Err() != nil {
		logger.Debug("session op abandoned", zap.Error(err))
		return
	}

	stage := opStage(op)
	metrics.SessionOpFailuresTotal.WithLabelValues(string(stage)).Inc()
	logger.Warn("session op failed", zap.String("stage", string(stage)), zap.Error(err))
	m.emit(ctx, CommandFailed{
		SessionID: s.ID(),
		Op:        opName(op),
		Stage:     stage,
		Err:       network.WrapStage(stage, err),
	})
}

func (m *Manager) emit(ctx context.Context, ev FrontendEvent) {
	if err := m.outbound.Send(ctx, ev); err != nil {
		log.Ctx(ctx).Debug("frontend event dropped", zap.String("event", ev.Name()), zap.Error(err))
	}
}

func opStage(op Op) network.Stage {
	switch op.(type) {
	case FetchDirectory:
		return network.StageDirectory
	case SendTextMessage:
		return network.StageSend
	default:
		return network.StageDispatch
	}
}

func opName(op Op) string {
	if op == nil {
		return "unknown"
	}
	return op.Name()
}

// directoryCache 按会话缓存公开房间目录，ttl 不大于 0 时不缓存。
type directoryCache struct {
	ttl   time.Duration
	inner *cache.Cache
}

func newDirectoryCache(ttl time.Duration) *directoryCache {
	c := &directoryCache{ttl: ttl}
	if ttl > 0 {
		c.inner = cache.New(ttl, 2*ttl)
	}
	return c
}

func (c *directoryCache) key(id ID) string {
	return "directory/" + formatID(id)
}

func (c *directoryCache) Get(id ID) ([]RoomSummary, bool) {
	if c.inner == nil {
		return nil, false
	}
	v, ok := c.inner.Get(c.key(id))
	if !ok {
		return nil, false
	}
	rooms, ok := v.([]RoomSummary)
	return rooms, ok
}

func (c *directoryCache) Set(id ID, rooms []RoomSummary) {
	if c.inner == nil {
		return
	}
	c.inner.Set(c.key(id), rooms, cache.DefaultExpiration)
}

func (c *directoryCache) Delete(id ID) {
	if c.inner == nil {
		return
	}
	c.inner.Delete(c.key(id))
}

func (c *directoryCache) Flush() {
	if c.inner == nil {
		return
	}
	c.inner.Flush()
}
