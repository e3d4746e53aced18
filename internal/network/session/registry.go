package session

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

// entry 为注册表中的一项：会话本身以及其同步任务的取消句柄。
type entry struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// stop 向同步任务发送取消信号，重复调用无副作用。
// 返回值表示本次调用是否真正发出了信号。
func (e *entry) stop() bool {
	stopped := false
	e.once.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		stopped = true
	})
	return stopped
}

// Registry 维护会话 ID 到会话及其取消句柄的映射。
//
// 注意：Registry 不是并发安全的，只允许管理循环所在的协程访问。
// 同步任务与命令处理器只持有各自 Session 的指针，从不接触 Registry。
type Registry struct {
	entries map[ID]*entry
}

// NewRegistry 创建一个空的注册表。
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[ID]*entry),
	}
}

// Insert 登记一个新会话。
//
// ctx 为会话生命周期的上下文，cancel 用于取消其同步任务。
// ID 已存在时返回错误，不覆盖旧会话。
func (r *Registry) Insert(ctx context.Context, s *Session, cancel context.CancelFunc) error {
	if _, ok := r.entries[s.ID()]; ok {
		return merr.WrapErrParameterInvalidMsg("session %d already registered", s.ID())
	}
	r.entries[s.ID()] = &entry{session: s, ctx: ctx, cancel: cancel}
	return nil
}

// Remove 移除会话并向其同步任务发送一次取消信号，不等待任务真正退出。
func (r *Registry) Remove(id ID) (*Session, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	e.stop()
	return e.session, true
}

// Get 按 ID 查找会话。
func (r *Registry) Get(id ID) (*Session, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// lookup 返回会话及其生命周期上下文。
func (r *Registry) lookup(id ID) (*Session, context.Context, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, nil, false
	}
	return e.session, e.ctx, true
}

// Len 返回当前登记的会话数量。
func (r *Registry) Len() int {
	return len(r.entries)
}

// IDs 返回按升序排列的会话 ID。
func (r *Registry) IDs() []ID {
	ids := lo.Keys(r.entries)
	slices.Sort(ids)
	return ids
}

// Snapshot 返回按 ID 升序排列的会话快照。
func (r *Registry) Snapshot() []Info {
	return lo.Map(r.IDs(), func(id ID, _ int) Info {
		return r.entries[id].session.Snapshot()
	})
}

// Drain 移除全部会话并逐个发送取消信号，返回被移除的会话 ID。
func (r *Registry) Drain() []ID {
	ids := r.IDs()
	for _, id := range ids {
		r.Remove(id)
	}
	return ids
}
