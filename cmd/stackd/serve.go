package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"vawter.tech/stopper"

	"github.com/loykin/stackd"
	"github.com/loykin/stackd/internal/auth"
	"github.com/loykin/stackd/internal/config"
	"github.com/loykin/stackd/internal/metrics"
	"github.com/loykin/stackd/internal/server"
	"github.com/loykin/stackd/internal/supervisor"
	tlsx "github.com/loykin/stackd/internal/tls"
)

const (
	shutdownGrace   = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// daemon wires the supervisor to its HTTP surfaces and background loops.
type daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	sup     *supervisor.Supervisor
	store   *config.OverrideStore
	api     *http.Server
	metrics *http.Server // nil unless metrics listen on their own address
	closers []io.Closer
}

func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	fd := os.Stderr.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		cfg.Log.Slog.Color = false
	}
	logger := cfg.Log.NewSlogger()
	slog.SetDefault(logger)

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.run(ctx, flags.Start)
}

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger, store: config.NewOverrideStore(cfg.Root)}

	opts := []stackd.Option{stackd.WithLogger(logger)}
	if cfg.History.DSN != "" {
		sink, err := stackd.NewHistorySink(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		if c, ok := sink.(io.Closer); ok {
			d.closers = append(d.closers, c)
		}
		opts = append(opts, stackd.WithHistory(sink))
	}
	var err error
	d.sup, err = stackd.NewFromConfig(cfg, opts...)
	if err != nil {
		d.close()
		return nil, err
	}

	routerOpts := []server.RouterOption{server.WithConfigProvider(d.store)}
	if cfg.Server.Auth.Enabled {
		a, err := auth.New(cfg.Server.Auth)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("server auth: %w", err)
		}
		routerOpts = append(routerOpts, server.WithAuth(a))
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			d.close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if cfg.Metrics.Listen == "" || cfg.Metrics.Listen == cfg.Server.Listen {
			routerOpts = append(routerOpts, server.WithMetrics())
		} else {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			d.metrics = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		}
	}
	d.api = server.NewServer(cfg.Server.Listen, server.NewRouter(d.sup, cfg.Server.BasePath, routerOpts...))
	if d.api.TLSConfig, err = tlsx.Setup(cfg.Server.TLS); err != nil {
		d.close()
		return nil, fmt.Errorf("server tls: %w", err)
	}
	return d, nil
}

// run serves until ctx is done or a listener fails, then stops every service.
func (d *daemon) run(ctx context.Context, start []string) error {
	sctx := stopper.WithContext(context.Background())
	failed := make(chan error, 2)

	sctx.Go(func(c *stopper.Context) error {
		runCtx, cancel := untilStopping(c)
		defer cancel()
		return d.sup.Run(runCtx)
	})
	sctx.Go(func(c *stopper.Context) error {
		runCtx, cancel := untilStopping(c)
		defer cancel()
		if err := config.NewWatcher(d.store, d.sup, d.logger).Run(runCtx); err != nil {
			d.logger.Warn("override watcher stopped", "dir", d.store.Dir, "error", err)
		}
		return nil
	})
	if d.cfg.Logs.ExportSchedule != "" {
		if err := d.scheduleExports(sctx); err != nil {
			d.logger.Error("log export schedule rejected", "schedule", d.cfg.Logs.ExportSchedule, "error", err)
		}
	}
	d.serve(sctx, "api", d.api, failed)
	if d.metrics != nil {
		d.serve(sctx, "metrics", d.metrics, failed)
	}
	if len(start) > 0 {
		sctx.Go(func(c *stopper.Context) error {
			for _, id := range start {
				if c.IsStopping() {
					return nil
				}
				o, err := d.store.LoadServiceConfig(id)
				if err != nil {
					d.logger.Error("load service config", "service", id, "error", err)
					continue
				}
				st, err := d.sup.StartWithConfig(id, o)
				if err != nil {
					d.logger.Error("start failed", "service", id, "error", err)
					continue
				}
				d.logger.Info("service started", "service", id, "state", st.State)
			}
			return nil
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutting down")
	case runErr = <-failed:
		d.logger.Error("server failed", "error", runErr)
	}
	sctx.Stop(shutdownGrace)
	if err := sctx.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if err := d.sup.Shutdown(); err != nil {
		d.logger.Warn("stopping services", "error", err)
	}
	d.close()
	return runErr
}

func (d *daemon) serve(sctx *stopper.Context, name string, srv *http.Server, failed chan<- error) {
	sctx.Go(func(c *stopper.Context) error {
		d.logger.Info("listening", "server", name, "addr", srv.Addr, "tls", srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			// certificates come from TLSConfig.GetCertificate
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	sctx.Go(func(c *stopper.Context) error {
		<-c.Stopping()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

func (d *daemon) close() {
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			d.logger.Warn("close", "error", err)
		}
	}
	d.closers = nil
}

// untilStopping returns a context cancelled once c begins stopping.
func untilStopping(c *stopper.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.Stopping():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
