// Package build owns the build generations of a project.
//
// The Orchestrator is a small state machine: Idle, Building(g),
// Succeeded(g) and Failed(g, err). Every rebuild request starts a new
// generation with a strictly larger id and cancels the one in flight. A
// generation parses the template, runs its pipelines, assembles a staging
// tree and publishes it; only the newest generation may publish, and a
// superseded generation's result is discarded. A generation that did
// publish always tells live-reload clients, even if a newer request arrived
// while it was finishing.
package build

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/conneroisu/tramline/internal/assembler"
	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/logging"
	"github.com/conneroisu/tramline/internal/manifest"
	"github.com/conneroisu/tramline/internal/metrics"
	"github.com/conneroisu/tramline/internal/pipeline"
	"github.com/conneroisu/tramline/internal/watcher"
)

// Executor runs the pipelines of one generation.
type Executor interface {
	Run(ctx context.Context, configs []*pipeline.Config, gen uint64) (map[int]pipeline.Output, error)
}

// Notifier tells live-reload clients about published or failed
// generations. Implementations must not block.
type Notifier interface {
	NotifyReload(gen uint64)
	NotifyError(gen uint64, message string)
}

// Options configure an Orchestrator.
type Options struct {
	// Target is the template path.
	Target   string
	Pipeline pipeline.Options
	Executor Executor
	// Assembler is required.
	Assembler *assembler.Assembler
	Notifier  Notifier
	Logger    logging.Logger
	Recorder  metrics.Recorder
}

// generation is one build attempt. It owns its cancel func and signals
// done once its staging and scratch output have been cleaned up.
type generation struct {
	id      uint64
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
	err     error
	// published is set once the generation's tree is in the output root.
	published bool
}

// Orchestrator serializes build generations.
type Orchestrator struct {
	target    string
	opts      pipeline.Options
	executor  Executor
	assembler *assembler.Assembler
	notifier  Notifier
	logger    logging.Logger
	recorder  metrics.Recorder
	metrics   *BuildMetrics

	mu          sync.Mutex
	state       State
	status      Status
	last        uint64
	current     *generation
	listeners   []func(State)
	diagnostics []errors.Diagnostic
}

// New creates an orchestrator in the Idle state.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	executor := opts.Executor
	if executor == nil {
		executor = pipeline.NewExecutor(nil, pipeline.DefaultWorkers, logger, opts.Recorder)
	}

	o := &Orchestrator{
		target:    opts.Target,
		opts:      opts.Pipeline,
		executor:  executor,
		assembler: opts.Assembler,
		notifier:  opts.Notifier,
		logger:    logger.WithComponent("orchestrator"),
		recorder:  metrics.OrNoop(opts.Recorder),
		metrics:   NewBuildMetrics(),
	}
	o.status = Status{Phase: PhaseIdle.String(), UpdatedAt: time.Now()}
	return o
}

// OnTransition registers fn to be called after every state change. fn runs
// on the goroutine that caused the transition and must not block.
func (o *Orchestrator) OnTransition(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a snapshot for clients.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	status := o.status
	status.Diagnostics = append([]errors.Diagnostic(nil), o.diagnostics...)
	o.mu.Unlock()

	snapshot := o.metrics.GetSnapshot()
	status.Published = o.assembler.Published()
	status.Builds = StatusCounters{
		Total:             snapshot.TotalBuilds,
		Succeeded:         snapshot.SuccessfulBuilds,
		Failed:            snapshot.FailedBuilds,
		Superseded:        snapshot.SupersededBuilds,
		LastDurationMs:    snapshot.LastDuration.Milliseconds(),
		AverageDurationMs: snapshot.AverageDuration.Milliseconds(),
		SuccessRate:       o.metrics.GetSuccessRate(),
	}
	if status.Diagnostics == nil {
		status.Diagnostics = []errors.Diagnostic{}
	}
	return status
}

// Metrics returns the generation counters.
func (o *Orchestrator) Metrics() *BuildMetrics {
	return o.metrics
}

// Trigger starts a new generation, cancelling the one in flight, and
// returns its id. It never blocks on build work: the new generation waits
// for its predecessor's cleanup on its own goroutine.
func (o *Orchestrator) Trigger(ctx context.Context) uint64 {
	g := o.start(ctx)
	return g.id
}

func (o *Orchestrator) start(ctx context.Context) *generation {
	gctx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.last++
	g := &generation{
		id:      o.last,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	prev := o.current
	if prev != nil {
		prev.cancel()
	}
	o.current = g
	listeners := o.transition(State{Phase: PhaseBuilding, Generation: g.id})
	o.mu.Unlock()

	o.recorder.SetGeneration(g.id)
	if prev != nil {
		o.logger.Info(ctx, "Superseding generation", "generation", g.id, "superseded", prev.id)
	} else {
		o.logger.Info(ctx, "Build started", "event", "building", "generation", g.id)
	}
	notify(listeners, State{Phase: PhaseBuilding, Generation: g.id})

	go o.run(gctx, g, prev)
	return g
}

func (o *Orchestrator) run(ctx context.Context, g, prev *generation) {
	defer close(g.done)
	defer g.cancel()

	// The predecessor removes its staging tree before signalling done, so
	// no two generations ever write at the same time.
	if prev != nil {
		<-prev.done
	}

	g.err = o.build(ctx, g)
	o.finish(ctx, g)
}

func (o *Orchestrator) build(ctx context.Context, g *generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	perf := logging.StartOperation(o.logger, "generation", "generation", g.id)

	directives, doc, err := manifest.ParseFile(o.target)
	if err != nil {
		return err
	}

	scratch := o.assembler.ScratchDir(g.id)
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			o.logger.Warn(ctx, err, "Failed to remove scratch directory", "path", scratch)
		}
	}()

	opts := o.opts
	opts.ScratchDir = scratch
	configs := pipeline.Resolve(doc, directives, opts)

	outputs, err := o.executor.Run(ctx, configs, g.id)
	if err != nil {
		return err
	}

	staging, err := o.assembler.Assemble(ctx, doc, directives, outputs, g.id)
	if err != nil {
		return err
	}
	if !o.isCurrent(g) {
		staging.Abort()
		return context.Canceled
	}
	if err := o.assembler.Publish(ctx, staging); err != nil {
		return err
	}
	g.published = true

	perf.End(ctx)
	return nil
}

func (o *Orchestrator) isCurrent(g *generation) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current == g
}

// finish applies a generation's outcome. Results of anything but the
// current generation are discarded, unless the generation already published:
// its bundle is live, so clients are told to reload whatever came after it.
func (o *Orchestrator) finish(ctx context.Context, g *generation) {
	duration := time.Since(g.started)
	o.recorder.ObserveGenerationDuration(duration)

	o.mu.Lock()
	current := o.current == g
	superseded := !g.published &&
		(!current || errors.IsCanceled(g.err) || (g.err != nil && ctx.Err() != nil))

	if superseded {
		o.metrics.RecordBuild(Result{Generation: g.id, Superseded: true, Duration: duration})
		o.recorder.IncGenerationOutcome(metrics.OutcomeSuperseded)

		var listeners []func(State)
		next := State{Phase: PhaseIdle}
		if current {
			// Cancelled without a successor: shutdown.
			o.current = nil
			listeners = o.transition(next)
		}
		o.mu.Unlock()

		o.logger.Debug(ctx, "Generation discarded", "generation", g.id, "duration_ms", duration.Milliseconds())
		notify(listeners, next)
		return
	}

	var next State
	if g.err != nil {
		next = State{Phase: PhaseFailed, Generation: g.id, Err: g.err}
	} else {
		next = State{Phase: PhaseSucceeded, Generation: g.id}
	}
	// A published generation overtaken by a newer one leaves the state to
	// its successor.
	var listeners []func(State)
	if current {
		o.diagnostics = errors.Diagnostics(g.err)
		listeners = o.transition(next)
	}
	o.mu.Unlock()

	o.metrics.RecordBuild(Result{Generation: g.id, Err: g.err, Duration: duration})

	if g.err != nil {
		o.recorder.IncGenerationOutcome(metrics.OutcomeFailed)
		o.logger.Error(context.Background(), g.err, "Build failed",
			"event", "error",
			"generation", g.id,
			"duration_ms", duration.Milliseconds())
		if o.notifier != nil {
			o.notifier.NotifyError(g.id, g.err.Error())
		}
	} else {
		o.recorder.IncGenerationOutcome(metrics.OutcomeSucceeded)
		o.logger.Info(context.Background(), "Build succeeded",
			"event", "success",
			"generation", g.id,
			"duration_ms", duration.Milliseconds())
		if o.notifier != nil {
			o.notifier.NotifyReload(g.id)
		}
	}
	notify(listeners, next)
}

// transition must be called with o.mu held. It returns the listeners to
// notify once the lock is released.
func (o *Orchestrator) transition(next State) []func(State) {
	o.state = next
	o.status.Phase = next.Phase.String()
	o.status.Generation = next.Generation
	o.status.UpdatedAt = time.Now()
	switch next.Phase {
	case PhaseSucceeded:
		o.status.Success = true
	case PhaseFailed:
		o.status.Success = false
	}
	return append([]func(State){}, o.listeners...)
}

func notify(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(s)
	}
}

// Wait blocks until the generation in flight, if any, has finished and
// cleaned up.
func (o *Orchestrator) Wait() {
	for {
		o.mu.Lock()
		g := o.current
		o.mu.Unlock()
		if g == nil {
			return
		}
		<-g.done

		o.mu.Lock()
		same := o.current == g
		o.mu.Unlock()
		if same {
			return
		}
	}
}

// BuildOnce runs a single generation to completion and returns its error.
func (o *Orchestrator) BuildOnce(ctx context.Context) error {
	if err := o.assembler.Sweep(); err != nil {
		return err
	}

	g := o.start(ctx)
	<-g.done
	return g.err
}

// Run builds once, then starts a generation for every request until ctx is
// cancelled or requests is closed. On return the generation in flight has
// been cancelled and cleaned up.
func (o *Orchestrator) Run(ctx context.Context, requests <-chan watcher.RebuildRequest) error {
	if err := o.assembler.Sweep(); err != nil {
		return err
	}

	o.start(ctx)
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case req, ok := <-requests:
			if !ok {
				o.shutdown()
				return nil
			}
			o.logger.Debug(ctx, "Rebuild requested", "paths", len(req.Paths))
			o.start(ctx)
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	g := o.current
	o.mu.Unlock()

	if g != nil {
		g.cancel()
	}
	o.Wait()
}
