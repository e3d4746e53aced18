package matrix

import (
	"net/http"
	"time"

	"github.com/lk2023060901/fest-go/internal/network/serializer"
	zlog "github.com/lk2023060901/fest-go/pkg/log"
)

const (
	defaultRequestTimeout    = 30 * time.Second
	defaultDeviceDisplayName = "fest"
	defaultDirectoryLimit    = 50
)

// Config 描述 Matrix 客户端的基础配置。
//
// 说明：
//   - RequestTimeout 作用于除长轮询 sync 以外的普通请求；
//   - sync 请求的超时为 RequestTimeout 加上服务端长轮询等待时间；
//   - Logger 仅用于本地封装层的日志记录。
type Config struct {
	RequestTimeout    time.Duration `mapstructure:"request-timeout"`
	DeviceDisplayName string        `mapstructure:"device-display-name"`
	DirectoryLimit    int           `mapstructure:"directory-limit"`

	// HTTPClient 允许调用方注入自定义 http.Client，测试时通常指向 httptest 服务。
	HTTPClient *http.Client `mapstructure:"-"`

	// Serializer 为请求与响应体的编解码器，默认 JSON。
	Serializer serializer.Serializer `mapstructure:"-"`

	// Logger 允许调用方注入自定义日志实例；为空时使用全局日志。
	Logger *zlog.MLogger `mapstructure:"-"`
}

// Option 为 Config 的可选配置项。
type Option func(*Config)

// WithConfig 使用配置文件中的字段，零值字段保持默认。
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		WithRequestTimeout(cfg.RequestTimeout)(c)
		WithDeviceDisplayName(cfg.DeviceDisplayName)(c)
		if cfg.DirectoryLimit > 0 {
			c.DirectoryLimit = cfg.DirectoryLimit
		}
		WithHTTPClient(cfg.HTTPClient)(c)
		WithSerializer(cfg.Serializer)(c)
		WithLogger(cfg.Logger)(c)
	}
}

// WithHTTPClient 注入自定义 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// WithRequestTimeout 设置普通请求超时。
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.RequestTimeout = d
		}
	}
}

// WithDeviceDisplayName 设置登录时上报的设备名。
func WithDeviceDisplayName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.DeviceDisplayName = name
		}
	}
}

// WithSerializer 注入请求体编解码器。
func WithSerializer(s serializer.Serializer) Option {
	return func(c *Config) {
		if s != nil {
			c.Serializer = s
		}
	}
}

// WithLogger 注入具名日志实例。
func WithLogger(l *zlog.MLogger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

func (c *Config) fillDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.DeviceDisplayName == "" {
		c.DeviceDisplayName = defaultDeviceDisplayName
	}
	if c.DirectoryLimit <= 0 {
		c.DirectoryLimit = defaultDirectoryLimit
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Serializer == nil {
		c.Serializer = serializer.JSONSerializer{}
	}
	if c.Logger == nil {
		c.Logger = zlog.With()
	}
}
