package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nao1215/bizcrawl/internal/model"
)

// Step defines the interface that all pipeline steps must implement.
type Step interface {
	// Do executes the step. Counters and failures of individual work
	// items go to report; a returned error halts the pipeline.
	Do(ctx context.Context, report *model.RunReport) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Stopper is implemented by steps that can be stopped while running.
type Stopper interface {
	Stop()
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger

	mu      sync.Mutex
	current Step
	stopped bool
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step to the pipeline.
// Steps are executed in the order they are added.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Stop stops the running step, if it supports stopping, and skips the
// steps after it. Execute then returns nil.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if s, ok := p.current.(Stopper); ok {
		s.Stop()
	}
}

// Execute runs all pipeline steps in sequence.
//
// Cancellation of ctx is checked before each step; a running step observes
// it through its engine. Execute returns ctx's error on cancellation, the
// step's error on failure, and nil when every step completed or Stop was
// called. The report is flagged as cancelled in all but the last case.
func (p *Pipeline) Execute(ctx context.Context, report *model.RunReport) error {
	defer p.setCurrent(nil)

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled", "step", step.Name(), "reason", err)
			report.MarkCancelled(nil)
			return err
		}
		if !p.setCurrent(step) {
			p.logger.Info("pipeline stopped", "skipped", step.Name())
			report.MarkCancelled(nil)
			return nil
		}

		p.logger.Info("executing step", "step", step.Name(), "run", report.RunID)

		if err := step.Do(ctx, report); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.logger.Warn("pipeline cancelled", "step", step.Name(), "reason", err)
				report.MarkCancelled(nil)
				return err
			}
			p.logger.Error("step failed", "step", step.Name(), "run", report.RunID, "error", err)
			report.MarkCancelled(err)
			return err
		}
		p.logger.Debug("step completed", "step", step.Name(), "run", report.RunID)
	}
	return nil
}

// setCurrent records the running step. It reports false once Stop was called.
func (p *Pipeline) setCurrent(step Step) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = step
	return !p.stopped || step == nil
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
