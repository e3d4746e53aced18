package frontend

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/fest-go/internal/network/session"
	"github.com/lk2023060901/fest-go/pkg/log"
)

const (
	defaultTickInterval = 50 * time.Millisecond
	defaultMaxBatch     = 64
)

// Config 为前端轮询配置，对应配置文件中的 frontend 段。
type Config struct {
	// TickInterval 为两次轮询之间的间隔。
	TickInterval time.Duration `mapstructure:"tick-interval"`
	// PollWait 为单次轮询等待事件的上限，不应超过几十毫秒。
	PollWait time.Duration `mapstructure:"poll-wait"`
	// MaxBatch 为单次轮询最多处理的事件数。
	MaxBatch int `mapstructure:"max-batch"`
}

func (c *Config) fillDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.PollWait <= 0 {
		c.PollWait = session.DefaultPollWait
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = defaultMaxBatch
	}
}

// Presenter 为事件的展示方。
//
// 所有方法都在轮询协程中调用，实现方不能执行依赖网络的阻塞操作。
type Presenter interface {
	// Present 展示一个事件。
	Present(ev session.FrontendEvent)
	// Crash 在后台管理循环异常退出时调用一次。
	Crash(err error)
}

// Poller 在每个 tick 以有界等待的方式从 Outbound 取出事件并交给 Presenter。
type Poller struct {
	cfg       Config
	outbound  *session.Outbound
	presenter Presenter
	logger    *log.MLogger
}

// NewPoller 创建一个 Poller。
func NewPoller(cfg Config, outbound *session.Outbound, presenter Presenter) *Poller {
	cfg.fillDefaults()
	return &Poller{
		cfg:       cfg,
		outbound:  outbound,
		presenter: presenter,
		logger:    log.With(log.FieldComponent("frontend-poller")),
	}
}

// Tick 执行一次轮询，返回本次展示的事件数量。
func (p *Poller) Tick() int {
	events := p.outbound.Drain(p.cfg.PollWait, p.cfg.MaxBatch)
	for _, ev := range events {
		p.presenter.Present(ev)
	}
	return len(events)
}

// Run 周期性轮询，直到 ctx 结束或后台退出。
//
// background 在管理循环退出时收到其返回值：nil 表示正常退出，
// 非 nil 表示后台崩溃，此时会先展示剩余事件再调用 Presenter.Crash。
func (p *Poller) Run(ctx context.Context, background <-chan error) error {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 后台退出通常会连带取消 ctx，已送达的退出结果优先。
			select {
			case err := <-background:
				return p.finish(err)
			default:
				return nil
			}
		case err := <-background:
			return p.finish(err)
		case <-ticker.C:
			p.Tick()
		}
	}
}

// finish 展示剩余事件，后台崩溃时通知 Presenter。
func (p *Poller) finish(err error) error {
	for p.Tick() > 0 {
	}
	if err != nil {
		p.logger.Error("background session manager crashed", zap.Error(err))
		p.presenter.Crash(err)
	}
	return err
}
