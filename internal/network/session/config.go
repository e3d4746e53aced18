package session

import (
	"time"

	"github.com/lk2023060901/fest-go/pkg/util/conc"
	"github.com/lk2023060901/fest-go/pkg/util/hardware"
)

const (
	defaultCommandQueueSize     = 64
	defaultEventQueueSize       = 1024
	defaultMaxSyncRetries       = 5
	defaultSyncBackoffInitial   = 500 * time.Millisecond
	defaultSyncBackoffMax       = 30 * time.Second
	defaultCommandRetryAttempts = 3
	defaultSendRatePerSecond    = 5
	defaultSendBurst            = 10
	defaultDirectoryCacheTTL    = time.Minute
)

// Config 为会话管理器的配置，对应配置文件中的 session 段。
type Config struct {
	// CommandQueueSize 为命令通道容量。
	CommandQueueSize int `mapstructure:"command-queue-size"`
	// EventQueueSize 为事件通道容量。
	EventQueueSize int `mapstructure:"event-queue-size"`

	// MaxSyncRetries 为同步失败后的最大连续重试次数，0 表示首次失败即终止。
	// 只有可重试的错误才会触发重试。
	MaxSyncRetries int `mapstructure:"max-sync-retries"`
	// SyncBackoffInitial 与 SyncBackoffMax 控制同步重试的指数退避区间。
	SyncBackoffInitial time.Duration `mapstructure:"sync-backoff-initial"`
	SyncBackoffMax     time.Duration `mapstructure:"sync-backoff-max"`

	// CommandRetryAttempts 为会话命令的最大尝试次数。
	CommandRetryAttempts uint `mapstructure:"command-retry-attempts"`
	// WorkerPoolSize 为会话命令协程池容量，默认等于可用 CPU 数。
	WorkerPoolSize int `mapstructure:"worker-pool-size"`
	// WorkerIdleTimeout 为空闲 worker 的回收间隔，0 使用协程池默认值，小于 0 表示不回收。
	WorkerIdleTimeout time.Duration `mapstructure:"worker-idle-timeout"`

	// SendRatePerSecond 与 SendBurst 限制单个会话发送消息的速率。
	SendRatePerSecond float64 `mapstructure:"send-rate-per-second"`
	SendBurst         int     `mapstructure:"send-burst"`

	// DirectoryCacheTTL 为房间目录缓存的有效期，不大于 0 表示不缓存。
	DirectoryCacheTTL time.Duration `mapstructure:"directory-cache-ttl"`
}

// poolOptions 返回会话命令协程池的配置项。
func (c Config) poolOptions() []conc.PoolOption {
	opts := []conc.PoolOption{
		conc.WithName("session-ops"),
		conc.WithNonBlocking(true),
		conc.WithConcealPanic(true),
	}
	switch {
	case c.WorkerIdleTimeout > 0:
		opts = append(opts, conc.WithExpiryDuration(c.WorkerIdleTimeout))
	case c.WorkerIdleTimeout < 0:
		opts = append(opts, conc.WithDisablePurge(true))
	}
	return opts
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	cfg := Config{MaxSyncRetries: defaultMaxSyncRetries, DirectoryCacheTTL: defaultDirectoryCacheTTL}
	cfg.fillDefaults()
	return cfg
}

// fillDefaults 为未设置的字段填充默认值。
//
// MaxSyncRetries 与 DirectoryCacheTTL 的零值有明确含义，不做填充。
func (c *Config) fillDefaults() {
	if c.CommandQueueSize <= 0 {
		c.CommandQueueSize = defaultCommandQueueSize
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = defaultEventQueueSize
	}
	if c.MaxSyncRetries < 0 {
		c.MaxSyncRetries = 0
	}
	if c.SyncBackoffInitial <= 0 {
		c.SyncBackoffInitial = defaultSyncBackoffInitial
	}
	if c.SyncBackoffMax < c.SyncBackoffInitial {
		c.SyncBackoffMax = max(defaultSyncBackoffMax, c.SyncBackoffInitial)
	}
	if c.CommandRetryAttempts == 0 {
		c.CommandRetryAttempts = defaultCommandRetryAttempts
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = hardware.GetCPUNum()
	}
	if c.SendRatePerSecond <= 0 {
		c.SendRatePerSecond = defaultSendRatePerSecond
	}
	if c.SendBurst <= 0 {
		c.SendBurst = defaultSendBurst
	}
}
