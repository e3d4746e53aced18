package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lk2023060901/fest-go/pkg/log"
	"github.com/lk2023060901/fest-go/pkg/metrics"
	"github.com/lk2023060901/fest-go/pkg/util/conc"
	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

// Manager 为会话管理核心。
//
// Manager 是注册表的唯一持有者，也是命令通道的唯一消费者：
// 命令严格按到达顺序逐条处理，注册表的增删不会交错。
// 同步任务与会话命令处理器运行在独立协程中，只通过 Outbound 与前端通信。
type Manager struct {
	log.Binder

	cfg       Config
	connector Connector
	inbound   *Inbound
	outbound  *Outbound

	registry *Registry
	nextID   ID

	pool     *conc.Pool[struct{}]
	dirCache *directoryCache
	newTxnID func() string

	running atomic.Bool
	tasks   sync.WaitGroup
}

// Option 用于定制 Manager。
type Option func(*Manager)

// WithLogger 为 Manager 绑定日志记录器。
func WithLogger(l *log.MLogger) Option {
	return func(m *Manager) {
		m.SetLogger(l)
	}
}

// WithTxnIDGenerator 替换发送消息时使用的事务 ID 生成函数。
func WithTxnIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newTxnID = fn
		}
	}
}

// NewManager 创建一个会话管理器，调用 Run 之后开始处理命令。
func NewManager(cfg Config, connector Connector, inbound *Inbound, outbound *Outbound, opts ...Option) *Manager {
	cfg.fillDefaults()
	pool := conc.NewPool[struct{}](cfg.WorkerPoolSize, cfg.poolOptions()...)
	m := &Manager{
		cfg:       cfg,
		connector: connector,
		inbound:   inbound,
		outbound:  outbound,
		registry:  NewRegistry(),
		pool:      pool,
		dirCache:  newDirectoryCache(cfg.DirectoryCacheTTL),
		newTxnID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run 运行管理循环，直到以下任一情况发生：
//   - 收到 Quit 命令，返回 nil；
//   - 命令通道或事件通道被关闭，返回对应的通道错误；
//   - ctx 结束，返回 ctx.Err()。
//
// 后两种情况下会先处理已入队的命令，其中的 Quit 仍按正常退出处理。
//
// 单个会话的失败不会导致 Run 返回。退出前会向所有仍在注册表中的会话发送取消信号，
// 但不等待它们真正结束，需要时可调用 Wait。Run 只能调用一次。
func (m *Manager) Run(ctx context.Context) (err error) {
	if !m.running.CompareAndSwap(false, true) {
		return merr.ErrManagerStopped
	}
	logger := m.Logger()
	logger.Info("session manager started",
		zap.Int("commandQueueSize", cap(m.inbound.ch)),
		zap.Int("eventQueueSize", cap(m.outbound.ch)),
		zap.Int("workerPoolSize", m.pool.Cap()))

	defer func() {
		m.inbound.markStopped()
		ids := m.registry.Drain()
		metrics.SessionActive.Set(0)
		m.dirCache.Flush()
		m.pool.Release()
		logger.Info("session manager stopped", zap.Int("cancelledSessions", len(ids)), zap.Error(err))
	}()

	for {
		select {
		case cmd := <-m.inbound.ch:
			if m.handle(ctx, cmd) {
				return nil
			}
		case <-m.inbound.closed:
			if m.drainQueued(ctx) {
				return nil
			}
			return merr.WrapErrChannelCommandClosed("inbound closed")
		case <-m.outbound.closed:
			if m.drainQueued(ctx) {
				return nil
			}
			return merr.WrapErrChannelEventClosed("outbound closed")
		case <-ctx.Done():
			if m.drainQueued(ctx) {
				return nil
			}
			return ctx.Err()
		}
	}
}

// drainQueued 按顺序处理退出前已入队的命令，不等待新命令。遇到 Quit 时返回 true。
func (m *Manager) drainQueued(ctx context.Context) bool {
	for range len(m.inbound.ch) {
		select {
		case cmd := <-m.inbound.ch:
			if m.handle(ctx, cmd) {
				return true
			}
		default:
			return false
		}
	}
	return false
}

// Wait 等待所有同步任务与会话命令处理器退出。
func (m *Manager) Wait() {
	m.tasks.Wait()
}

// handle 处理一条命令，返回 true 表示应退出循环。
func (m *Manager) handle(ctx context.Context, cmd Command) bool {
	metrics.SessionCommandsTotal.WithLabelValues(cmd.Name()).Inc()

	switch cmd := cmd.(type) {
	case Connect:
		m.connect(ctx, cmd)
	case Disconnect:
		m.disconnect(cmd.ID)
	case SessionCommand:
		m.dispatch(cmd)
	case ListSessions:
		m.listSessions(cmd)
	case Quit:
		m.Logger().Info("session manager received quit", zap.Int("sessions", m.registry.Len()))
		return true
	default:
		m.Logger().Warn("ignore unknown command", zap.String("command", cmd.Name()))
	}
	return false
}

func (m *Manager) connect(ctx context.Context, cmd Connect) {
	if cmd.Method == nil {
		m.Logger().Warn("ignore connect without method",
			log.FieldServer(cmd.ServerAddress),
			zap.Error(merr.WrapErrParameterMissing("method")))
		return
	}

	id := m.nextID
	m.nextID++

	limiter := rate.NewLimiter(rate.Limit(m.cfg.SendRatePerSecond), m.cfg.SendBurst)
	s := newSession(id, cmd.ServerAddress, cmd.Method.identity(), limiter)
	taskCtx, cancel := context.WithCancel(log.AttachLogger(ctx, m.Logger()))
	if err := m.registry.Insert(taskCtx, s, cancel); err != nil {
		cancel()
		m.Logger().Error("register session failed", log.FieldSessionID(uint64(id)), zap.Error(err))
		return
	}
	metrics.SessionActive.Set(float64(m.registry.Len()))

	m.Logger().Info("session created",
		log.FieldSessionID(uint64(id)),
		log.FieldServer(cmd.ServerAddress),
		zap.Stringer("identity", s.Identity()))

	task := newSyncTask(s, cmd.Method, m.connector, m.outbound, m.cfg)
	m.tasks.Add(1)
	conc.Go(func() (struct{}, error) {
		defer m.tasks.Done()
		reason, err := task.run(taskCtx)
		metrics.SessionTaskExitsTotal.WithLabelValues(reason).Inc()
		m.Logger().Debug("sync task exited",
			log.FieldSessionID(uint64(id)),
			zap.String("reason", reason),
			zap.Error(err))
		return struct{}{}, err
	})
}

func (m *Manager) disconnect(id ID) {
	s, ok := m.registry.Remove(id)
	if !ok {
		m.Logger().Warn("disconnect unknown session", zap.Error(merr.WrapErrSessionNotFound(uint64(id))))
		return
	}
	m.dirCache.Delete(id)
	metrics.SessionActive.Set(float64(m.registry.Len()))
	m.Logger().Info("session disconnected",
		log.FieldSessionID(uint64(id)),
		log.FieldServer(s.ServerAddress()))
}

func (m *Manager) listSessions(cmd ListSessions) {
	if cmd.Reply == nil {
		return
	}
	select {
	case cmd.Reply <- m.registry.Snapshot():
	default:
		m.Logger().Warn("list sessions reply dropped, receiver not ready")
	}
}
