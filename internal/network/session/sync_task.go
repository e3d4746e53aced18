package session

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lk2023060901/fest-go/internal/network"
	"github.com/lk2023060901/fest-go/pkg/log"
	"github.com/lk2023060901/fest-go/pkg/metrics"
	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

// 同步任务的退出原因，用作监控标签。
const (
	exitCanceled      = "canceled"
	exitAuthFailed    = "auth_failed"
	exitSyncFailed    = "sync_failed"
	exitChannelClosed = "channel_closed"
)

const guestDisplayName = "Guest"

// syncTask 负责单个会话的认证与长轮询同步。
//
// 任务没有正常结束的路径：只会因取消或错误退出。
type syncTask struct {
	session   *Session
	method    Method
	connector Connector
	outbound  *Outbound
	cfg       Config
}

func newSyncTask(s *Session, method Method, connector Connector, outbound *Outbound, cfg Config) *syncTask {
	return &syncTask{
		session:   s,
		method:    method,
		connector: connector,
		outbound:  outbound,
		cfg:       cfg,
	}
}

// run 执行任务直到取消或失败，返回退出原因。
func (t *syncTask) run(ctx context.Context) (string, error) {
	ctx, span := log.StartIntent(ctx, "session", "sync")
	defer span.End()
	ctx = log.WithFields(log.WithSession(ctx, uint64(t.session.ID()), t.session.ServerAddress()),
		zap.Stringer("identity", t.session.Identity()))
	logger := log.Ctx(ctx)

	conn, err := t.authenticate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return exitCanceled, nil
		}
		err = merr.WrapErrSessionAuthFailed(t.session.ServerAddress(), t.session.Identity().String(), err)
		logger.Warn("session authenticate failed", zap.Error(err))
		return t.fail(ctx, network.StageAuth, exitAuthFailed, err)
	}
	t.session.setConn(conn)

	name := t.resolveDisplayName(ctx, conn)
	if ctx.Err() != nil {
		return exitCanceled, nil
	}
	t.session.setDisplayName(name)
	logger.Info("session connected", zap.String("userID", conn.UserID()), zap.String("displayName", name))
	if err := t.emit(ctx, SessionConnected{
		SessionID:   t.session.ID(),
		UserID:      conn.UserID(),
		DisplayName: name,
	}); err != nil {
		return exitReason(ctx, err)
	}

	return t.syncLoop(ctx, conn)
}

func (t *syncTask) authenticate(ctx context.Context) (Conn, error) {
	switch m := t.method.(type) {
	case LoginMethod:
		return t.connector.Login(ctx, t.session.ServerAddress(), m.Username, m.Password)
	case GuestMethod:
		return t.connector.RegisterGuest(ctx, t.session.ServerAddress())
	default:
		return nil, merr.WrapErrParameterInvalidMsg("unknown connection method %T", t.method)
	}
}

// resolveDisplayName 获取显示名，失败或为空时回退到身份对应的默认名称。
func (t *syncTask) resolveDisplayName(ctx context.Context, conn Conn) string {
	name, err := conn.DisplayName(ctx)
	if err != nil && ctx.Err() == nil {
		metrics.SessionOpFailuresTotal.WithLabelValues(string(network.StageProfile)).Inc()
		log.Ctx(ctx).Warn("fetch display name failed",
			zap.Error(merr.WrapErrOpProfileFailed(conn.UserID(), err)))
	}
	if name != "" {
		return name
	}
	switch id := t.session.Identity().(type) {
	case UserIdentity:
		return id.Username
	default:
		return guestDisplayName
	}
}

func (t *syncTask) syncLoop(ctx context.Context, conn Conn) (string, error) {
	logger := log.Ctx(ctx)
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(t.cfg.SyncBackoffInitial),
		backoff.WithMaxInterval(t.cfg.SyncBackoffMax),
		backoff.WithMaxElapsedTime(0),
	)

	var (
		cursor   *string
		failures int
	)
	for {
		start := time.Now()
		events, next, err := conn.Sync(ctx, cursor)
		if ctx.Err() != nil {
			return exitCanceled, nil
		}
		if err != nil {
			metrics.SessionSyncRequestsTotal.WithLabelValues(metrics.FailLabel).Inc()
			if !merr.IsRetryableErr(err) || failures >= t.cfg.MaxSyncRetries {
				err = merr.WrapErrSessionSyncFailed(uint64(t.session.ID()), err)
				logger.Warn("session sync failed", zap.Int("retried", failures), zap.Error(err))
				return t.fail(ctx, network.StageSync, exitSyncFailed, err)
			}
			failures++
			wait := bo.NextBackOff()
			logger.RatedWarn(10, "session sync failed, retrying",
				zap.Int("retried", failures),
				zap.Duration("backoff", wait),
				zap.Error(err))
			if !sleepCtx(ctx, wait) {
				return exitCanceled, nil
			}
			continue
		}

		metrics.SessionSyncRequestsTotal.WithLabelValues(metrics.SuccessLabel).Inc()
		metrics.SessionSyncLatency.Observe(float64(time.Since(start).Milliseconds()))
		if failures > 0 {
			logger.Info("session sync recovered", zap.Int("retried", failures))
			failures = 0
			bo.Reset()
		}

		for _, remote := range events {
			for _, ev := range translate(t.session.ID(), remote) {
				if err := t.emit(ctx, ev); err != nil {
					return exitReason(ctx, err)
				}
			}
		}
		cursor = &next
	}
}

func (t *syncTask) emit(ctx context.Context, ev FrontendEvent) error {
	return t.outbound.Send(ctx, ev)
}

// fail 向前端报告任务终止，并返回退出原因。
func (t *syncTask) fail(ctx context.Context, stage network.Stage, reason string, err error) (string, error) {
	err = network.WrapStage(stage, err)
	if sendErr := t.emit(ctx, SessionFailed{SessionID: t.session.ID(), Stage: stage, Err: err}); sendErr != nil {
		log.Ctx(ctx).Debug("report session failure dropped", zap.Error(sendErr))
	}
	return reason, err
}

func exitReason(ctx context.Context, err error) (string, error) {
	if ctx.Err() != nil {
		return exitCanceled, nil
	}
	return exitChannelClosed, network.WrapStage(network.StageDispatch, err)
}

// sleepCtx 等待 d，ctx 提前结束时返回 false。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
