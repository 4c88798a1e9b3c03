package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/logging"
	"github.com/conneroisu/tramline/internal/metrics"
)

// DefaultWorkers bounds concurrent pipelines when no capacity is configured.
const DefaultWorkers = 4

// Executor runs the pipelines of one generation on a bounded worker pool.
type Executor struct {
	registry *Registry
	workers  int
	logger   logging.Logger
	recorder metrics.Recorder
}

// NewExecutor creates an executor. Pipelines run at most workers at a time,
// so subprocess-bound work cannot exhaust the scheduler.
func NewExecutor(registry *Registry, workers int, logger logging.Logger, recorder metrics.Recorder) *Executor {
	if registry == nil {
		registry = NewRegistry()
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Executor{
		registry: registry,
		workers:  workers,
		logger:   logger.WithComponent("executor"),
		recorder: metrics.OrNoop(recorder),
	}
}

// Run validates every config, then executes all pipelines concurrently and
// returns their outputs keyed by directive index.
//
// Validation failures abort before any pipeline starts. Execution fails
// fast: the first pipeline error cancels every sibling that has not
// completed and is the error returned; errors from siblings already in
// flight are discarded. A cancelled ctx yields ctx's error and no outputs.
func (e *Executor) Run(ctx context.Context, configs []*Config, gen uint64) (map[int]Output, error) {
	pipelines := make([]Pipeline, len(configs))
	for i, cfg := range configs {
		p, err := e.registry.Lookup(cfg.Directive.Kind)
		if err != nil {
			return nil, err
		}
		if err := p.Validate(cfg); err != nil {
			return nil, err
		}
		pipelines[i] = p
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var mu sync.Mutex
	outputs := make(map[int]Output, len(configs))

	for i, cfg := range configs {
		if gctx.Err() != nil {
			break
		}
		p := pipelines[i]
		g.Go(func() error {
			return e.execute(gctx, gen, p, cfg, func(out Output) {
				mu.Lock()
				outputs[cfg.Directive.Index] = out
				mu.Unlock()
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return outputs, nil
}

func (e *Executor) execute(ctx context.Context, gen uint64, p Pipeline, cfg *Config, collect func(Output)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	kind := cfg.Directive.Kind.String()
	logger := e.logger.With("generation", gen, "directive", cfg.Name())
	logger.Debug(ctx, "Pipeline started")

	start := time.Now()
	artifacts, err := p.Execute(ctx, cfg)
	duration := time.Since(start)
	e.recorder.ObservePipelineDuration(kind, duration)

	if err != nil {
		if errors.IsCanceled(err) || ctx.Err() != nil {
			e.recorder.IncPipelineResult(kind, metrics.ResultCanceled)
			logger.Debug(ctx, "Pipeline cancelled", "duration_ms", duration.Milliseconds())
			return err
		}
		e.recorder.IncPipelineResult(kind, metrics.ResultFailed)
		logger.Warn(ctx, err, "Pipeline failed", "duration_ms", duration.Milliseconds())
		return err
	}

	for j := range artifacts {
		artifacts[j].DirectiveIndex = cfg.Directive.Index
		artifacts[j].Kind = cfg.Directive.Kind
	}
	collect(Output{Directive: cfg.Directive, Artifacts: artifacts})

	e.recorder.IncPipelineResult(kind, metrics.ResultSuccess)
	logger.Debug(ctx, "Pipeline finished",
		"artifacts", len(artifacts),
		"duration_ms", duration.Milliseconds())
	return nil
}
