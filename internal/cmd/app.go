package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/warden/internal/config"
	"github.com/felixgeelhaar/warden/internal/exec"
	"github.com/felixgeelhaar/warden/internal/gate"
	"github.com/felixgeelhaar/warden/internal/ledger"
	"github.com/felixgeelhaar/warden/internal/log"
	"github.com/felixgeelhaar/warden/internal/metrics"
	"github.com/felixgeelhaar/warden/internal/remote"
	"github.com/felixgeelhaar/warden/internal/runner"
	"github.com/felixgeelhaar/warden/internal/safety"
	"github.com/felixgeelhaar/warden/internal/telemetry"
	"github.com/felixgeelhaar/warden/internal/tui"
	"github.com/felixgeelhaar/warden/internal/version"
)

// app is the wired execution core for one CLI invocation.
type app struct {
	cfg         *config.Config
	cctx        *CommandContext
	logger      *log.Logger
	metrics     *metrics.Metrics
	interactive bool
	registry    remote.Registry
	runner      *runner.Runner
	stdout      io.Writer
	stderr      io.Writer
	cleanups    []func()
}

// newApp loads configuration and builds the execution pipeline. Callers
// must defer Close.
func newApp(cmd *cobra.Command) (*app, error) {
	cctx, err := NewCommandContext(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		cctx:   cctx,
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}
	a.setupLogging()
	a.setupTelemetry(cmd.Context())
	if err := a.setupMetrics(); err != nil {
		a.Close()
		return nil, err
	}

	led := a.openLedger()

	registry, err := loadRegistry(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = registry

	a.interactive = !cctx.NoInput && tui.ShouldPrompt()
	var prompter gate.Prompter
	if a.interactive {
		prompter = tui.NewConfirmer()
	}
	g := gate.New(gate.Config{Trust: cfg.Trust, Interactive: a.interactive}, prompter, gate.WithLogger(a.logger))

	executor := exec.New(exec.Config{
		Shell:          cfg.Shell.Path,
		ShellArgs:      cfg.Shell.Args,
		GraceWindow:    cfg.Timeouts.Grace,
		MaxOutputBytes: cfg.MaxOutputBytes,
	}, exec.WithLogger(a.logger))

	opts := []runner.Option{
		runner.WithLedger(led),
		runner.WithMetrics(a.metrics),
		runner.WithLogger(a.logger),
		runner.WithStrictSyntax(cfg.StrictSyntax),
		runner.WithStepOutput(a.stdout, a.stderr),
		runner.WithHostTag(hostTag),
	}
	if registry != nil {
		connector := remote.NewSSHConnector(remote.SSHConfig{
			ConnectTimeout:        cfg.Remote.ConnectTimeout,
			GraceWindow:           cfg.Timeouts.Grace,
			KnownHostsFile:        config.ExpandPath(cfg.Remote.KnownHosts),
			InsecureIgnoreHostKey: cfg.Remote.InsecureIgnoreHostKey,
		})
		opts = append(opts, runner.WithDispatcher(remote.NewDispatcher(registry, connector,
			remote.WithMaxParallel(cfg.Remote.MaxParallel),
			remote.WithMaxOutputBytes(cfg.MaxOutputBytes),
			remote.WithLogger(a.logger),
			remote.WithMetrics(a.metrics),
		)))
	}

	preparer := safety.NewPreparer(safety.WithTimeouts(cfg.Timeouts.Classes()))
	a.runner = runner.New(preparer, g, executor, opts...)
	return a, nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cctx *CommandContext) (*config.Config, error) {
	cfg, err := config.Load(cctx.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cctx.Yes {
		cfg.Trust = true
	}
	if cctx.Strict {
		cfg.StrictSyntax = true
	}
	if cctx.LogLevel != "" {
		cfg.Logging.Level = cctx.LogLevel
	}
	if cctx.HostsFile != "" {
		cfg.Remote.HostsFile = cctx.HostsFile
	}
	if cctx.MetricsAddr != "" {
		cfg.Metrics.Addr = cctx.MetricsAddr
	}
	return cfg, nil
}

func (a *app) setupLogging() {
	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(a.cfg.Logging.Level)
	logCfg.Format = log.ParseFormat(a.cfg.Logging.Format)
	logCfg.Output = a.stderr

	if a.cfg.Logging.File != "" {
		path := config.ExpandPath(a.cfg.Logging.File)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err == nil {
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				logCfg.Output = f
				a.cleanups = append(a.cleanups, func() { _ = f.Close() })
			}
		}
	}
	logCfg = log.FromEnv(logCfg)

	a.logger = log.New(logCfg)
	log.SetDefaultLogger(a.logger)
}

func (a *app) setupTelemetry(ctx context.Context) {
	if !a.cfg.Telemetry.Enabled {
		return
	}

	telemCfg := telemetry.DefaultConfig()
	telemCfg.ServiceVersion = version.GetInfo().Version
	telemCfg.Enabled = true
	telemCfg.Endpoint = a.cfg.Telemetry.Endpoint
	telemCfg.Insecure = a.cfg.Telemetry.Insecure
	telemCfg.SampleRate = a.cfg.Telemetry.SampleRate

	shutdown, err := telemetry.InitProvider(ctx, telemCfg)
	if err != nil {
		a.logger.Warn("Failed to initialize telemetry", "error", err)
		return
	}
	a.logger.Debug("Telemetry enabled", "endpoint", telemCfg.Endpoint, "sample_rate", telemCfg.SampleRate)

	a.cleanups = append(a.cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Failed to flush telemetry", "error", err)
		}
	})
}

func (a *app) setupMetrics() error {
	reg, m := metrics.NewRegistry()
	a.metrics = m
	if a.cfg.Metrics.Addr == "" {
		return nil
	}

	srv, err := metrics.Serve(a.cfg.Metrics.Addr, prometheus.Gatherers{reg, prometheus.DefaultGatherer})
	if err != nil {
		return fmt.Errorf("failed to expose metrics on %s: %w", a.cfg.Metrics.Addr, err)
	}
	a.logger.Info("Serving metrics", "addr", srv.Addr())
	a.cleanups = append(a.cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return nil
}

// openLedger opens the configured ledger file. A ledger that cannot be
// opened is logged and replaced with a no-op so commands still run.
func (a *app) openLedger() ledger.Ledger {
	if !a.cfg.Ledger.Enabled {
		return ledger.Nop{}
	}
	path := config.ExpandPath(a.cfg.Ledger.Path)
	if path == "" {
		path = ledger.DefaultPath()
	}
	fl, err := ledger.OpenFile(path)
	if err != nil {
		a.logger.WithError(err).Warn("ledger disabled", "path", path)
		return ledger.Nop{}
	}
	a.cleanups = append(a.cleanups, func() { _ = fl.Close() })
	return fl
}

// loadRegistry reads the host registry. A missing file means no remote
// hosts are configured.
func loadRegistry(cfg *config.Config) (remote.Registry, error) {
	path := config.ExpandPath(cfg.Remote.HostsFile)
	if path == "" {
		return nil, nil
	}
	reg, err := remote.LoadRegistry(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return reg, nil
}

// Close releases files, servers and exporters in reverse order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}
