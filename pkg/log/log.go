// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/uber/jaeger-client-go/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// _globalL 带一层调用栈偏移，供包级 Debug/Info 等函数使用；
	// _globalCtxL 不带偏移，供 Ctx 与 With 派生的 Logger 使用。
	_globalL, _globalCtxL, _globalP, _globalR, _globalCleanup atomic.Value

	_namedRateLimiters sync.Map
)

// RateLimiter 为限流日志使用的最小接口。
type RateLimiter interface {
	CheckCredit(delta float64) bool
}

// nopRateLimiter 从不丢弃日志。
type nopRateLimiter struct{}

func (nopRateLimiter) CheckCredit(delta float64) bool { return true }

// limiterHolder 使 _globalR 始终存放同一具体类型。
type limiterHolder struct {
	RateLimiter
}

func init() {
	l, p := newStdLogger()
	ReplaceGlobals(l, p)

	configureRateLimiterFromEnv()
}

// InitLogger 按配置创建 zap Logger，文件输出与标准输出可同时开启。
//
// 返回的 Logger 带一层调用栈偏移，适合交给 ReplaceGlobals；
// 直接作为组件 Logger 使用时需再加 zap.AddCallerSkip(-1)。
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	var outputs []zapcore.WriteSyncer
	if len(cfg.File.Filename) > 0 {
		lg, err := initFileLog(&cfg.File)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, zapcore.AddSync(lg))
	}
	if cfg.Stdout {
		stdOut, _, err := zap.Open("stdout")
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, stdOut)
	}

	// trace 视为 debug。
	level := cfg.Level
	if strings.EqualFold(level, "trace") {
		level = "debug"
	}
	levelCfg := *cfg
	levelCfg.Level = level

	lg, props, err := InitLoggerWithWriteSyncer(&levelCfg, zap.CombineWriteSyncers(outputs...), opts...)
	if err != nil {
		return nil, nil, err
	}
	return lg.WithOptions(zap.AddCallerSkip(1)), props, nil
}

// InitLoggerWithWriteSyncer 使用指定的 WriteSyncer 创建 zap Logger，测试中常用于写入内存缓冲。
func InitLoggerWithWriteSyncer(cfg *Config, output zapcore.WriteSyncer, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	cfg.initialize()
	if cfg.AsyncWriteEnable {
		bws := &zapcore.BufferedWriteSyncer{
			WS:            output,
			Size:          cfg.AsyncWriteBufferSize,
			FlushInterval: cfg.AsyncWriteFlushInterval,
		}
		registerCleanup(func() { _ = bws.Stop() })
		output = bws
	}
	core := zapcore.NewCore(newZapEncoder(cfg), output, level)
	opts = append(cfg.buildOptions(output), opts...)
	return zap.New(core, opts...), &ZapProperties{
		Core:   core,
		Syncer: output,
		Level:  level,
	}, nil
}

// initFileLog 创建按大小与天数轮转的日志文件。
func initFileLog(cfg *FileLogConfig) (*lumberjack.Logger, error) {
	logPath := filepath.Join(cfg.RootPath, cfg.Filename)
	if st, err := os.Stat(logPath); err == nil && st.IsDir() {
		return nil, errors.Newf("log file %q is a directory", logPath)
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultLogMaxSize
	}
	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}, nil
}

func newStdLogger() (*zap.Logger, *ZapProperties) {
	conf := &Config{Level: "info", Stdout: true}
	lg, r, _ := InitLogger(conf, zap.OnFatal(zapcore.WriteThenPanic))
	return lg, r
}

// L 返回全局 Logger，可通过 ReplaceGlobals 替换，并发安全。
func L() *zap.Logger {
	return _globalL.Load().(*zap.Logger)
}

// R 返回全局限流器，未开启限流时返回从不丢弃的实现。
func R() RateLimiter {
	if h, ok := _globalR.Load().(limiterHolder); ok && h.RateLimiter != nil {
		return h.RateLimiter
	}
	return nopRateLimiter{}
}

func ctxL() *zap.Logger {
	return _globalCtxL.Load().(*zap.Logger)
}

// Cleanup 释放全局 Logger 持有的异步写入资源。
func Cleanup() {
	if cleanup, ok := _globalCleanup.Load().(func()); ok && cleanup != nil {
		cleanup()
	}
}

// ReplaceGlobals 替换全局 Logger，logger 应来自 InitLogger，并发安全。
func ReplaceGlobals(logger *zap.Logger, props *ZapProperties) {
	_globalL.Store(logger)
	_globalCtxL.Store(logger.WithOptions(zap.AddCallerSkip(-1)))
	_globalP.Store(props)
}

func registerCleanup(cleanup func()) {
	if old, ok := _globalCleanup.Swap(cleanup).(func()); ok && old != nil {
		old()
	}
}

// Sync 刷新全局 Logger 缓冲的日志。
func Sync() error {
	return L().Sync()
}

// Level 返回全局日志级别，修改它会立即影响所有派生 Logger。
func Level() zap.AtomicLevel {
	return _globalP.Load().(*ZapProperties).Level
}

// configureRateLimiterFromEnv 按 FEST_LOG_RATE_* 环境变量配置全局限流器。
//
//   - FEST_LOG_RATE_ENABLE: 为 "1"/"true" 时开启，默认关闭。
//   - FEST_LOG_RATE_CREDIT_PER_SECOND: 每秒恢复的额度，默认 1.0。
//   - FEST_LOG_RATE_MAX_BALANCE: 额度上限，默认 60.0。
func configureRateLimiterFromEnv() {
	if !getenvBool("FEST_LOG_RATE_ENABLE", false) {
		_globalR.Store(limiterHolder{nopRateLimiter{}})
		return
	}
	credit := getenvFloat("FEST_LOG_RATE_CREDIT_PER_SECOND", 1.0)
	maxBalance := getenvFloat("FEST_LOG_RATE_MAX_BALANCE", 60.0)
	_globalR.Store(limiterHolder{utils.NewRateLimiter(credit, maxBalance)})
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}
