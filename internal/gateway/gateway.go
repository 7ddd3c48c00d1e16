// Package gateway assembles the device: register image, publisher, control
// API, Modbus server and monitor, and runs them until shutdown.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rohanbalixz/clad-pv/internal/api"
	"github.com/rohanbalixz/clad-pv/internal/audit"
	"github.com/rohanbalixz/clad-pv/internal/auth"
	"github.com/rohanbalixz/clad-pv/internal/config"
	"github.com/rohanbalixz/clad-pv/internal/control"
	"github.com/rohanbalixz/clad-pv/internal/metrics"
	"github.com/rohanbalixz/clad-pv/internal/monitor"
	"github.com/rohanbalixz/clad-pv/internal/publisher"
	"github.com/rohanbalixz/clad-pv/internal/registers"
	"github.com/rohanbalixz/clad-pv/internal/schedule"
	"github.com/rohanbalixz/clad-pv/internal/storage"
	"github.com/rohanbalixz/clad-pv/internal/telemetry"
	"github.com/rohanbalixz/clad-pv/internal/transport"
)

type Options struct {
	Clock    schedule.Clock
	Registry *prometheus.Registry
	Identity transport.Identity
}

type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  schedule.Clock

	Metrics   *metrics.Metrics
	Image     *registers.Image
	Store     *control.Store
	Control   *control.Service
	Publisher *publisher.Publisher
	Monitor   *monitor.Monitor

	keyring  auth.Keyring
	watcher  *auth.FileKeyring
	journal  *storage.FileJournal
	modbus   *transport.Server
	client   *transport.Client
	tap      *monitor.TapWriter
	influx   *monitor.InfluxSink
	router   http.Handler
	identity transport.Identity

	mu      sync.Mutex
	apiAddr net.Addr
}

// New builds every component from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Gateway, error) {
	if opts.Clock == nil {
		opts.Clock = schedule.Real{}
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if opts.Identity == (transport.Identity{}) {
		opts.Identity = transport.DefaultIdentity
	}
	g := &Gateway{cfg: cfg, logger: logger, clock: opts.Clock, identity: opts.Identity}
	g.Metrics = metrics.New(opts.Registry)

	source, err := g.openSource()
	if err != nil {
		g.Close()
		return nil, err
	}

	g.Image = registers.NewImage(registers.Options{Writable: cfg.Modbus.Writable})
	if cfg.Modbus.Writable {
		logger.Warn("lab mode: protocol writes reach the register image until the next publish")
	}

	if err := g.openControl(); err != nil {
		g.Close()
		return nil, err
	}

	g.Publisher = publisher.New(source, g.Store, g.Image, publisher.Options{
		LogEvery: cfg.Publisher.LogEvery,
		Logger:   logger.With("component", "publisher"),
		Metrics:  g.Metrics,
	})

	g.modbus, err = transport.NewServer(transport.ServerConfig{
		Addr:       cfg.Modbus.Addr,
		Timeout:    cfg.Modbus.Timeout,
		MaxClients: cfg.Modbus.MaxClients,
		Identity:   opts.Identity,
	}, transport.NewHandler(g.Image, g.Metrics, logger.With("component", "modbus")), logger.With("component", "modbus"))
	if err != nil {
		g.Close()
		return nil, err
	}

	if cfg.Monitor.Enabled {
		if err := g.openMonitor(); err != nil {
			g.Close()
			return nil, err
		}
	}

	g.router = api.NewRouter(api.Deps{
		Control:     g.Control,
		Image:       g.Image,
		Identity:    opts.Identity,
		Metrics:     g.Metrics,
		Logger:      logger.With("component", "api"),
		CORSOrigins: cfg.API.CORSOrigins,
		RateLimit:   cfg.API.RateLimit,
		RateBurst:   cfg.API.RateBurst,
	})
	return g, nil
}

func (g *Gateway) openSource() (telemetry.Source, error) {
	path := g.cfg.Publisher.TelemetryCSV
	if path == "" {
		g.logger.Info("telemetry source: synthetic baseline day")
		return telemetry.NewBaseline(telemetry.BaselineConfig{}), nil
	}
	rows, err := telemetry.LoadCSV(path)
	if err != nil {
		return nil, fmt.Errorf("load telemetry: %w", err)
	}
	g.logger.Info("telemetry source: csv", "path", path, "rows", len(rows))
	return telemetry.NewCycle(rows)
}

func (g *Gateway) openControl() error {
	blob, err := storage.NewFileBlob(g.cfg.Control.StateFile, 0o600)
	if err != nil {
		return fmt.Errorf("control state: %w", err)
	}
	g.Store = control.OpenStore(blob, g.logger.With("component", "control"))

	g.journal, err = storage.NewFileJournal(g.cfg.Audit.File, 0o600)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	trail, err := audit.NewTrail(g.journal, g.cfg.Audit.Secret)
	if err != nil {
		return err
	}

	if g.cfg.Control.WatchSecret {
		g.watcher, err = auth.NewFileKeyring(g.cfg.Control.SecretFile, g.logger.With("component", "keyring"))
		if err != nil {
			return fmt.Errorf("control secret: %w", err)
		}
		g.keyring = g.watcher
	} else {
		g.keyring = auth.NewStaticKeyring(g.cfg.Control.Secret)
	}

	g.Control, err = control.NewService(g.Store, trail, g.keyring, control.Options{
		Freshness: g.cfg.Control.Freshness,
		Clock:     g.clock,
		Logger:    g.logger.With("component", "control"),
		Recorder:  g.Metrics,
	})
	return err
}

func (g *Gateway) openMonitor() error {
	var err error
	g.client, err = transport.NewClient(transport.ClientConfig{
		Addr:    g.cfg.Monitor.Target,
		Timeout: g.cfg.Monitor.Timeout,
		Clock:   g.clock,
	})
	if err != nil {
		return err
	}
	logger := g.logger.With("component", "monitor")
	opts := monitor.Options{
		Limits:  g.cfg.Monitor.Limits,
		Sinks:   []monitor.Sink{monitor.LogSink{Logger: logger}},
		Logger:  logger,
		Metrics: g.Metrics,
	}
	if g.cfg.Monitor.TapFile != "" {
		g.tap, err = monitor.CreateTapFile(g.cfg.Monitor.TapFile)
		if err != nil {
			return fmt.Errorf("tap file: %w", err)
		}
		opts.Taps = append(opts.Taps, g.tap)
	}
	if in := g.cfg.Influx; in.Enabled() {
		g.influx = monitor.NewInfluxSink(monitor.InfluxConfig{
			URL:     in.URL,
			Token:   in.Token,
			Org:     in.Org,
			Bucket:  in.Bucket,
			Timeout: in.Timeout,
			Device:  g.identity.Product,
		})
		opts.Sinks = append(opts.Sinks, g.influx)
		if in.Readings {
			opts.Taps = append(opts.Taps, g.influx)
		}
	}
	g.Monitor = monitor.New(g.client, opts)
	return nil
}

// APIAddr is the bound HTTP address once Run is listening.
func (g *Gateway) APIAddr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.apiAddr
}

// Run serves until ctx is cancelled or a component fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.API.Addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	g.mu.Lock()
	g.apiAddr = ln.Addr()
	g.mu.Unlock()

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error { return g.modbus.Run(ctx) })

	pub := g.Publisher.Loop(schedule.Config{
		Interval: g.cfg.Publisher.Interval,
		Clock:    g.clock,
		Observe:  g.Metrics.ObserveTick,
	})
	grp.Go(func() error { return pub.Run(ctx) })

	if g.Monitor != nil {
		mon := g.Monitor.Loop(schedule.Config{
			Interval: g.cfg.Monitor.Interval,
			Clock:    g.clock,
			Observe:  g.Metrics.ObserveTick,
		})
		grp.Go(func() error { return mon.Run(ctx) })
	}

	if g.watcher != nil {
		grp.Go(func() error { return g.watcher.Watch(ctx) })
	}

	srv := &http.Server{
		Handler:           g.router,
		ReadTimeout:       g.cfg.API.ReadTimeout,
		ReadHeaderTimeout: g.cfg.API.ReadTimeout,
		WriteTimeout:      g.cfg.API.WriteTimeout,
	}
	grp.Go(func() error {
		g.logger.Info("api listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return grp.Wait()
}

// Close releases files and clients. Safe after a failed New.
func (g *Gateway) Close() {
	if g.client != nil {
		_ = g.client.Close()
	}
	if g.tap != nil {
		_ = g.tap.Close()
	}
	if g.influx != nil {
		g.influx.Close()
	}
	if g.journal != nil {
		_ = g.journal.Close()
	}
}
