package session

import (
	"context"
	"sync"
	"time"

	"github.com/lk2023060901/fest-go/pkg/metrics"
	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

// DefaultPollWait 为前端单次轮询的默认等待上限。
const DefaultPollWait = 20 * time.Millisecond

// Inbound 为前端到管理循环的命令通道。
//
// 多生产者、单消费者、有界：队列满时 Send 阻塞直到有空位，从不静默丢弃。
// 关闭通道不是退出请求，管理循环会将其视为通道故障；退出请使用 Quit 命令。
type Inbound struct {
	ch chan Command

	closed    chan struct{}
	closeOnce sync.Once

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewInbound 创建容量为 size 的命令通道，size 小于 1 时按 1 处理。
func NewInbound(size int) *Inbound {
	if size < 1 {
		size = 1
	}
	return &Inbound{
		ch:      make(chan Command, size),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Send 投递一条命令。
//
// 返回：
//   - ctx 结束时返回 ctx.Err()；
//   - 管理循环已退出时返回 merr.ErrManagerStopped；
//   - 通道已关闭时返回 merr.ErrChannelCommandClosed。
func (in *Inbound) Send(ctx context.Context, cmd Command) error {
	select {
	case <-in.stopped:
		return merr.ErrManagerStopped
	case <-in.closed:
		return merr.WrapErrChannelCommandClosed("send on closed inbound")
	default:
	}

	select {
	case in.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-in.stopped:
		return merr.ErrManagerStopped
	case <-in.closed:
		return merr.WrapErrChannelCommandClosed("send on closed inbound")
	}
}

// Close 关闭命令通道，重复调用无副作用。
//
// 底层 chan 不会被 close，避免并发 Send 时 panic。
func (in *Inbound) Close() {
	in.closeOnce.Do(func() {
		close(in.closed)
	})
}

// Len 返回排队中的命令数量。
func (in *Inbound) Len() int {
	return len(in.ch)
}

// Stopped 在管理循环退出后关闭。
func (in *Inbound) Stopped() <-chan struct{} {
	return in.stopped
}

func (in *Inbound) markStopped() {
	in.stopOnce.Do(func() {
		close(in.stopped)
	})
}

// Outbound 为管理核心到前端的事件通道。
//
// 生产者为各个同步任务与会话命令处理器，唯一消费者为前端的轮询逻辑。
// 前端应使用 Poll/Drain 的有界等待，避免阻塞界面。
type Outbound struct {
	ch chan FrontendEvent

	closed    chan struct{}
	closeOnce sync.Once
}

// NewOutbound 创建容量为 size 的事件通道，size 小于 1 时按 1 处理。
func NewOutbound(size int) *Outbound {
	if size < 1 {
		size = 1
	}
	return &Outbound{
		ch:     make(chan FrontendEvent, size),
		closed: make(chan struct{}),
	}
}

// Send 投递一个事件，队列满时阻塞。
//
// 单个事件的入队是原子的：要么完整入队，要么因 ctx 结束或通道关闭而放弃。
func (o *Outbound) Send(ctx context.Context, ev FrontendEvent) error {
	select {
	case <-o.closed:
		return merr.WrapErrChannelEventClosed("send on closed outbound")
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case o.ch <- ev:
		metrics.SessionFrontendEventsTotal.WithLabelValues(ev.Name()).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.closed:
		return merr.WrapErrChannelEventClosed("send on closed outbound")
	}
}

// Poll 最多等待 wait 取出一个事件，wait 不大于 0 时不等待。
func (o *Outbound) Poll(wait time.Duration) (FrontendEvent, bool) {
	select {
	case ev := <-o.ch:
		return ev, true
	default:
	}
	if wait <= 0 {
		return nil, false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ev := <-o.ch:
		return ev, true
	case <-timer.C:
		return nil, false
	}
}

// Drain 最多等待 wait 取得第一个事件，随后不再等待地取出已排队的事件，
// 一次最多返回 limit 个，limit 不大于 0 表示不限制。
func (o *Outbound) Drain(wait time.Duration, limit int) []FrontendEvent {
	ev, ok := o.Poll(wait)
	if !ok {
		return nil
	}
	events := []FrontendEvent{ev}
	for limit <= 0 || len(events) < limit {
		ev, ok = o.Poll(0)
		if !ok {
			break
		}
		events = append(events, ev)
	}
	return events
}

// Close 表示前端不再接收事件，重复调用无副作用。
func (o *Outbound) Close() {
	o.closeOnce.Do(func() {
		close(o.closed)
	})
}

// Len 返回排队中的事件数量。
func (o *Outbound) Len() int {
	return len(o.ch)
}
