package viper

import (
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper 实例，对外提供精简的 YAML/JSON 配置加载接口。
type Config struct {
	v *spfviper.Viper
}

// Option 为 Config 的可选配置项。
type Option func(v *spfviper.Viper)

// WithEnvPrefix 允许使用环境变量覆盖配置项。
//
// 例如前缀为 FEST 时，session.max-sync-retries 对应 FEST_SESSION_MAX_SYNC_RETRIES。
func WithEnvPrefix(prefix string) Option {
	return func(v *spfviper.Viper) {
		v.SetEnvPrefix(prefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	}
}

// WithDefaults 设置配置项的默认值，key 使用点号分隔。
func WithDefaults(defaults map[string]any) Option {
	return func(v *spfviper.Viper) {
		for key, value := range defaults {
			v.SetDefault(key, value)
		}
	}
}

// New 创建一个空的 Config。
// 未调用 LoadFile 时只包含默认值与环境变量。
func New(opts ...Option) *Config {
	v := spfviper.New()
	for _, opt := range opts {
		opt(v)
	}
	return &Config{v: v}
}

// LoadFile 将 YAML 或 JSON 配置文件加载到 Config 中。
// 文件类型通过扩展名（.yaml/.yml/.json）推断。
func (c *Config) LoadFile(path string) error {
	c.v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	default:
		// 让 viper 自行推断类型，或在读取时返回清晰的错误信息。
	}

	return c.v.ReadInConfig()
}

// BindFlags 将命令行参数绑定到同名配置项，已显式设置的参数优先于配置文件。
func (c *Config) BindFlags(fs *pflag.FlagSet) error {
	return c.v.BindPFlags(fs)
}

// IsSet 判断配置项是否存在。
func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key)
}

// GetString 返回字符串配置项。
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// Unmarshal 将完整配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst any) error {
	return c.v.Unmarshal(dst)
}

// UnmarshalKey 将指定 key 对应的子配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) UnmarshalKey(key string, dst any) error {
	return c.v.UnmarshalKey(key, dst)
}
