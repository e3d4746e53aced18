package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/fest-go/application"
	"github.com/lk2023060901/fest-go/internal/frontend"
	"github.com/lk2023060901/fest-go/internal/network/connector"
	"github.com/lk2023060901/fest-go/internal/network/session"
	"github.com/lk2023060901/fest-go/internal/sdk/matrix"
	zlog "github.com/lk2023060901/fest-go/pkg/log"
	"github.com/lk2023060901/fest-go/pkg/metrics"
	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

const (
	quitTimeout  = time.Second
	replyTimeout = time.Second
)

type accountConfig struct {
	Server   string `mapstructure:"server"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Guest    bool   `mapstructure:"guest"`
}

func (a accountConfig) command() session.Command {
	if a.Guest {
		return session.Connect{ServerAddress: a.Server, Method: session.GuestMethod{}}
	}
	return session.Connect{
		ServerAddress: a.Server,
		Method:        session.LoginMethod{Username: a.Username, Password: a.Password},
	}
}

type metricsConfig struct {
	Listen string `mapstructure:"listen"`
}

type appConfig struct {
	Session   session.Config   `mapstructure:"session"`
	Matrix    matrix.Config    `mapstructure:"matrix"`
	Connector connector.Config `mapstructure:"connector"`
	Frontend  frontend.Config  `mapstructure:"frontend"`
	Metrics   metricsConfig    `mapstructure:"metrics"`
	Accounts  []accountConfig  `mapstructure:"accounts"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	app := application.New("fest")
	if err := app.Run(); err != nil {
		return err
	}
	defer app.Shutdown()

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		zlog.Info(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		zlog.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	app.OnShutdown(undo)

	cfg := appConfig{Session: session.DefaultConfig()}
	if err := app.Config().Unmarshal(&cfg); err != nil {
		return errors.Wrap(err, "unmarshal config")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	conn := connector.New(cfg.Connector,
		matrix.WithConfig(cfg.Matrix),
		matrix.WithLogger(app.Logger("matrix")))
	inbound := session.NewInbound(cfg.Session.CommandQueueSize)
	outbound := session.NewOutbound(cfg.Session.EventQueueSize)
	mgr := session.NewManager(cfg.Session, conn, inbound, outbound,
		session.WithLogger(app.Logger("session")))

	presenter := &terminalPresenter{w: os.Stdout}
	poller := frontend.NewPoller(cfg.Frontend, outbound, presenter)

	sigCtx, stop := app.SignalContext(context.Background())
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	background := make(chan error, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// 管理循环只响应 Quit，信号与前端退出统一转换为 Quit。
		err := mgr.Run(context.Background())
		mgr.Wait()
		background <- err
		return err
	})
	g.Go(func() error {
		defer cancel()
		return poller.Run(gctx, background)
	})
	g.Go(func() error {
		<-gctx.Done()
		sendQuit(inbound)
		return nil
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Listen)
		})
	}

	for _, account := range cfg.Accounts {
		if err := inbound.Send(ctx, account.command()); err != nil {
			zlog.Warn("failed to connect configured account",
				zlog.FieldServer(account.Server), zap.Error(err))
		}
	}
	go readCommands(ctx, os.Stdin, inbound, presenter)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sendQuit(inbound *session.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()
	if err := inbound.Send(ctx, session.Quit{}); err != nil && !errors.Is(err, merr.ErrManagerStopped) {
		zlog.Warn("failed to deliver quit", zap.Error(err))
	}
}

// readCommands 逐行读取用户输入，输入结束时请求退出。
func readCommands(ctx context.Context, r io.Reader, inbound *session.Inbound, presenter *terminalPresenter) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd, err := parseLine(scanner.Text())
		if err != nil {
			fmt.Fprintln(presenter.w, err)
			continue
		}
		if cmd == nil {
			continue
		}

		var reply chan []session.Info
		if _, ok := cmd.(session.ListSessions); ok {
			reply = make(chan []session.Info, 1)
			cmd = session.ListSessions{Reply: reply}
		}
		if err := inbound.Send(ctx, cmd); err != nil {
			return
		}
		if reply != nil {
			select {
			case infos := <-reply:
				presenter.Sessions(infos)
			case <-time.After(replyTimeout):
				fmt.Fprintln(presenter.w, "session list unavailable")
			case <-ctx.Done():
				return
			}
		}
		if _, ok := cmd.(session.Quit); ok {
			return
		}
	}
	sendQuit(inbound)
}

func serveMetrics(ctx context.Context, addr string) error {
	// DefaultServeMux 上已挂载 pprof。
	http.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "metrics server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), quitTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
