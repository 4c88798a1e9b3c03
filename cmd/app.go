package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/tramline/internal/assembler"
	"github.com/conneroisu/tramline/internal/build"
	"github.com/conneroisu/tramline/internal/config"
	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/logging"
	"github.com/conneroisu/tramline/internal/metrics"
	"github.com/conneroisu/tramline/internal/pipeline"
	"github.com/conneroisu/tramline/internal/watcher"
	"github.com/conneroisu/tramline/internal/websocket"
)

// app holds the components shared by the build, watch and serve commands.
type app struct {
	config    *config.Config
	logger    logging.Logger
	registry  *prom.Registry
	recorder  *metrics.PrometheusRecorder
	assembler *assembler.Assembler
}

// newApp loads the configuration held by v and wires the build components.
// Logs go to logOut.
func newApp(v *viper.Viper, logOut io.Writer) (*app, error) {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, errors.NewConfigError(err.Error())
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, errors.NewConfigError(err.Error())
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: logOut,
	})

	registry := prom.NewRegistry()
	asm, err := assembler.New(cfg.Build.Dist, cfg.Build.PublicURL, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		config:    cfg,
		logger:    logger,
		registry:  registry,
		recorder:  metrics.NewPrometheusRecorder(registry),
		assembler: asm,
	}, nil
}

// orchestrator creates the build orchestrator. notifier may be nil.
func (a *app) orchestrator(notifier build.Notifier) *build.Orchestrator {
	b := a.config.Build
	return build.New(build.Options{
		Target: b.Target,
		Pipeline: pipeline.Options{
			Release:   b.Release,
			PublicURL: b.PublicURL,
			Toolchain: pipeline.Toolchain{
				Cargo:     b.Cargo,
				Bindgen:   b.Bindgen,
				Sass:      b.Sass,
				TargetDir: b.TargetDir,
				AppName:   b.AppName,
			},
		},
		Executor:  pipeline.NewExecutor(nil, b.Workers, a.logger, a.recorder),
		Assembler: a.assembler,
		Notifier:  notifier,
		Logger:    a.logger,
		Recorder:  a.recorder,
	})
}

// watch subscribes to the configured paths. The output directory and its
// staging siblings are always ignored. Transient watch errors are logged.
func (a *app) watch(ctx context.Context) (<-chan watcher.RebuildRequest, error) {
	ignore := append([]string(nil), a.config.Watch.Ignore...)
	ignore = append(ignore, a.assembler.Dist())

	fw, err := watcher.New(watcher.Config{
		Paths:    a.config.Watch.Paths,
		Ignore:   ignore,
		Debounce: a.config.Watch.Debounce,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(watcher.NoTempFilter)

	requests, errs, err := fw.Watch(ctx)
	if err != nil {
		return nil, err
	}

	handler := errors.NewErrorHandler(a.logger)
	go func() {
		for err := range errs {
			handler.Handle(ctx, err)
		}
	}()
	return requests, nil
}

// allowedOrigins lists the hosts the live-reload endpoint accepts. A
// wildcard bind address admits any origin.
func (a *app) allowedOrigins() websocket.OriginValidator {
	host := a.config.Serve.Host
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return nil
	}

	port := strconv.Itoa(a.config.Serve.Port)
	allowed := []string{net.JoinHostPort(host, port)}
	for _, loopback := range []string{"localhost", "127.0.0.1", "[::1]"} {
		allowed = append(allowed, loopback+":"+port)
	}
	return websocket.HostValidator{Allowed: allowed}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// printDiagnostics writes a failed build's diagnostics for humans.
func printDiagnostics(w io.Writer, err error) {
	for _, d := range errors.Diagnostics(err) {
		location := d.Source
		if d.File != "" {
			location = filepath.ToSlash(d.File)
			if d.Line > 0 {
				location += ":" + strconv.Itoa(d.Line)
				if d.Column > 0 {
					location += ":" + strconv.Itoa(d.Column)
				}
			}
		}
		fmt.Fprintf(w, "error: %s\n  --> %s\n", firstLine(d.Message), location)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
