package application

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	zlog "github.com/lk2023060901/fest-go/pkg/log"
	"github.com/lk2023060901/fest-go/pkg/util/hardware"
	zviper "github.com/lk2023060901/fest-go/pkg/util/viper"
)

const (
	defaultConfigPath = "./config.yaml"
	configPathEnv     = "FEST_CONFIG_FILE_PATH"
	envPrefix         = "FEST"
)

// Application is the runtime container of the fest client.
// It owns configuration, named loggers and shutdown hooks.
type Application struct {
	name  string
	flags *pflag.FlagSet

	cfg     *zviper.Config
	loggers map[string]*zlog.MLogger

	mu       sync.Mutex
	hooks    []func()
	shutdown sync.Once
}

// New creates a new Application instance.
func New(name string) *Application {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path of the YAML/JSON config file")
	return &Application{
		name:  name,
		flags: fs,
	}
}

// Flags returns the flag set so callers can register extra flags before Run.
// Every flag is also bound to the config key of the same name.
func (a *Application) Flags() *pflag.FlagSet {
	return a.flags
}

// Run parses os.Args and loads configuration.
func (a *Application) Run() error {
	return a.RunWithArgs(os.Args[1:])
}

// RunWithArgs parses args and loads the configuration file using the following priority:
//  1. Default: ./config.yaml (optional)
//  2. Env: FEST_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
//
// A missing default file is not an error; an explicitly chosen one is.
func (a *Application) RunWithArgs(args []string) error {
	if err := a.flags.Parse(args); err != nil {
		return errors.Wrap(err, "parse flags")
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}

	inContainer, err := hardware.InContainer()
	zlog.Info("application started",
		zap.String("name", a.name),
		zap.Int("cpus", hardware.GetCPUNum()),
		zap.Bool("inContainer", inContainer),
		zap.NamedError("containerProbe", err))
	return nil
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return zlog.With(zlog.FieldModule(name))
}

// OnShutdown registers fn to run during Shutdown. Hooks run in reverse order.
func (a *Application) OnShutdown(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, fn)
}

// Shutdown runs the registered hooks once and flushes loggers.
func (a *Application) Shutdown() {
	a.shutdown.Do(func() {
		a.mu.Lock()
		hooks := a.hooks
		a.hooks = nil
		a.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
		zlog.Info("application stopped", zap.String("name", a.name))
		for _, lg := range a.loggers {
			_ = lg.Sync()
		}
		_ = zlog.Sync()
		zlog.Cleanup()
	})
}

// SignalContext returns a context canceled on SIGINT or SIGTERM.
func (a *Application) SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// loadConfig resolves config file path and loads it via viper wrapper.
func (a *Application) loadConfig() (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv(configPathEnv); envPath != "" {
		configPath = envPath
		explicit = true
	}
	if flagPath, _ := a.flags.GetString("config"); flagPath != "" {
		configPath = flagPath
		explicit = true
	}

	cfg := zviper.New(zviper.WithEnvPrefix(envPrefix))
	if err := cfg.BindFlags(a.flags); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}

	if _, err := os.Stat(configPath); err != nil && !explicit && os.IsNotExist(err) {
		return cfg, nil
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
	}
	return cfg, nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv configures the process-wide logger based on FEST_LOG_* env vars.
//
// Priority:
//   - FEST_LOG_ENABLE: "1"/"true" to enable outputs; others treated as disabled.
//   - FEST_LOG_LEVEL: log level (default "info").
//   - FEST_LOG_STDOUT: whether to log to stdout (default false).
//   - FEST_LOG_FILE_DIR: log directory.
//   - FEST_LOG_FILE: log file name (empty means no file).
//   - FEST_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("FEST_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:  getenvDefault("FEST_LOG_LEVEL", "info"),
		Format: getenvDefault("FEST_LOG_FORMAT", "text"),
		Stdout: getenvBool("FEST_LOG_STDOUT", false),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("FEST_LOG_FILE_DIR", ""),
			Filename: getenvDefault("FEST_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init global logger from env: %w", err)
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from YAML config under "logging" key.
//
// Example:
//
//	logging:
//	  session:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: session.log
func (a *Application) initModuleLoggersFromConfig() error {
	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return errors.Wrap(err, "unmarshal logging section")
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger.WithOptions(zap.AddCallerSkip(-1)).With(zlog.FieldModule(name))}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
