// Package app wires the command line to the script VM and its front ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/pingw33n/vault13-sub000/pkg/asm"
	"github.com/pingw33n/vault13-sub000/pkg/cli"
	"github.com/pingw33n/vault13-sub000/pkg/config"
	"github.com/pingw33n/vault13-sub000/pkg/fileutil"
	"github.com/pingw33n/vault13-sub000/pkg/game"
	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/metrics"
	"github.com/pingw33n/vault13-sub000/pkg/script"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
	"github.com/pingw33n/vault13-sub000/pkg/window"
)

const (
	metricsTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Application runs one command.
type Application struct {
	config *cli.Config
	log    *slog.Logger
	fs     afero.Fs
	stdin  io.Reader
	stdout io.Writer
	// openDataDir opens the game data directory.
	openDataDir func(dir string) (afero.Fs, error)
}

// New creates an application on the OS file system and standard streams.
func New() *Application {
	return &Application{
		fs:          afero.NewOsFs(),
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		openDataDir: fileutil.OpenDataDir,
	}
}

// Run executes the command line args, which exclude the program name.
func (app *Application) Run(args []string) error {
	config, err := cli.ParseArgs(args)
	if err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}
	app.config = config

	if config.ShowHelp {
		cli.PrintHelp(app.stdout)
		return nil
	}

	if err := logger.InitLoggerTo(app.stdout, config.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.log = logger.GetLogger()

	switch config.Command {
	case cli.CommandAsm:
		return app.assemble(config.Args[0], config.Output)
	case cli.CommandDisasm:
		proc := ""
		if len(config.Args) > 1 {
			proc = config.Args[1]
		}
		return app.disassemble(config.Args[0], proc)
	default:
		return app.run()
	}
}

func (app *Application) assemble(src, out string) error {
	source, err := afero.ReadFile(app.fs, src)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	code, err := asm.Assemble(string(source))
	if err != nil {
		return fmt.Errorf("failed to assemble %s: %w", src, err)
	}
	if err := afero.WriteFile(app.fs, out, code, 0o644); err != nil {
		return fmt.Errorf("failed to write program: %w", err)
	}
	app.log.Info("Program assembled", "source", src, "output", out, "size", len(code))
	return nil
}

func (app *Application) disassemble(file, proc string) error {
	code, err := afero.ReadFile(app.fs, file)
	if err != nil {
		return fmt.Errorf("failed to read program: %w", err)
	}
	name := strings.TrimSuffix(path.Base(file), path.Ext(file))
	p, err := vm.LoadProgram(name, code, vm.LoadOptions{Logger: app.log})
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", file, err)
	}
	return Listing(app.stdout, p, proc)
}

// loadConfig reads the configuration file, if any, and applies the command
// line overrides.
func (app *Application) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if app.config.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(app.fs, app.config.ConfigPath); err != nil {
			return nil, err
		}
	}
	if app.config.DataDir != "" {
		cfg.Data.Dir = app.config.DataDir
	}
	if app.config.Language != "" {
		cfg.Data.Language = app.config.Language
	}
	if cfg.Data.Dir == "" {
		return nil, errors.New("no data directory given")
	}
	return cfg, nil
}

// NewSession builds the VM, the script manager and a session over the game
// data in fsys.
func NewSession(cfg *config.Config, fsys afero.Fs, reg prometheus.Registerer, log *slog.Logger) (*game.Session, error) {
	enc, err := cfg.TextEncoding()
	if err != nil {
		return nil, err
	}
	observer, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	machine := vm.New(
		vm.WithLogger(log),
		vm.WithMaxStackLen(cfg.VM.MaxStackLen),
		vm.WithEncoding(enc),
		vm.WithStrictVarBounds(cfg.VM.StrictVarBounds),
		vm.WithObserver(observer),
	)
	db, err := script.NewDB(fsys,
		script.WithLanguage(cfg.Data.Language),
		script.WithEncoding(enc),
		script.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open script database: %w", err)
	}
	log.Info("Script database opened", "scripts", db.Len(), "language", cfg.Data.Language)
	scripts := script.New(db, machine, script.WithLogger(log))
	return game.NewSession(cfg, scripts, nil, log), nil
}

func (app *Application) run() error {
	cfg, err := app.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fsys, err := app.openDataDir(cfg.Data.Dir)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	session, err := NewSession(cfg, fsys, reg, app.log)
	if err != nil {
		return err
	}
	if app.config.MetricsAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		done := runMetricsServer(ctx, app.config.MetricsAddr, reg, app.log)
		defer func() {
			cancel()
			<-done
		}()
	}

	if err := session.LoadMap(); err != nil {
		return fmt.Errorf("failed to load map: %w", err)
	}

	if app.config.Headless {
		err := window.RunHeadless(session, app.config.Timeout, app.stdin, app.stdout)
		if errors.Is(err, window.ErrTimeout) {
			app.log.Info("Timeout reached, terminating")
			return nil
		}
		return err
	}
	return window.Run(session, cfg.TickInterval(), app.config.Timeout)
}

func runMetricsServer(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) <-chan struct{} {
	h := http.NewServeMux()
	h.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: metricsTimeout,
		ReadTimeout:       metricsTimeout,
	}
	go func() {
		log.Info("Starting metrics server", "address", addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "error", err)
		}
	}()
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shut down metrics server", "error", err)
		}
	}()
	return done
}
