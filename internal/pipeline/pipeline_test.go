package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nao1215/bizcrawl/internal/model"
)

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, report *model.RunReport) error
	callCount int
	stopped   int
}

// Do implements Step.Do.
func (m *mockStep) Do(ctx context.Context, report *model.RunReport) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, report)
	}
	report.AddPhase(m.name)
	return nil
}

// Name implements Step.Name.
func (m *mockStep) Name() string {
	return m.name
}

// Stop implements Stopper.
func (m *mockStep) Stop() {
	m.stopped++
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestPipelineNew tests the Pipeline constructor.
func TestPipelineNew(t *testing.T) {
	t.Parallel()

	p := New()
	if p == nil {
		t.Fatal("expected non-nil pipeline")
	}
	if p.StepCount() != 0 {
		t.Errorf("expected 0 steps, got %d", p.StepCount())
	}
	if p.logger == nil {
		t.Error("expected default logger")
	}
}

// TestPipelineAddStep tests adding steps to the pipeline.
func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	t.Run("adds single step", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddStep(&mockStep{name: "discovery"})
		if p.StepCount() != 1 {
			t.Errorf("expected 1 step, got %d", p.StepCount())
		}
	})

	t.Run("keeps order with AddSteps", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddSteps(&mockStep{name: "discovery"}, &mockStep{name: "enrichment"})
		names := p.StepNames()
		if len(names) != 2 || names[0] != "discovery" || names[1] != "enrichment" {
			t.Errorf("got step names %v", names)
		}
	})
}

// TestPipelineExecute tests step execution and error handling.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("runs all steps in order", func(t *testing.T) {
		t.Parallel()

		first := &mockStep{name: "discovery"}
		second := &mockStep{name: "enrichment"}
		p := New(WithLogger(quietLogger()))
		p.AddSteps(first, second)

		report := model.NewRunReport(nil)
		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(report.Phases) != 2 || report.Phases[0] != "discovery" || report.Phases[1] != "enrichment" {
			t.Errorf("got phases %v", report.Phases)
		}
		if report.Cancelled {
			t.Error("report should not be cancelled")
		}
	})

	t.Run("step error halts the pipeline", func(t *testing.T) {
		t.Parallel()

		errSink := errors.New("sink unavailable")
		first := &mockStep{name: "discovery", doFunc: func(context.Context, *model.RunReport) error { return errSink }}
		second := &mockStep{name: "enrichment"}
		p := New(WithLogger(quietLogger()))
		p.AddSteps(first, second)

		report := model.NewRunReport(nil)
		err := p.Execute(context.Background(), report)
		if !errors.Is(err, errSink) {
			t.Fatalf("got %v, expected %v", err, errSink)
		}
		if second.callCount != 0 {
			t.Error("second step should not run after a failure")
		}
		if !report.Cancelled || report.FatalError != "sink unavailable" {
			t.Errorf("got cancelled=%v fatal=%q", report.Cancelled, report.FatalError)
		}
	})

	t.Run("cancelled context skips steps", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		step := &mockStep{name: "discovery"}
		p := New(WithLogger(quietLogger()))
		p.AddStep(step)

		report := model.NewRunReport(nil)
		if err := p.Execute(ctx, report); !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, expected context.Canceled", err)
		}
		if step.callCount != 0 {
			t.Error("step should not run on a cancelled context")
		}
		if !report.Cancelled || report.FatalError != "" {
			t.Errorf("got cancelled=%v fatal=%q", report.Cancelled, report.FatalError)
		}
	})

	t.Run("cancellation inside a step is not a fatal error", func(t *testing.T) {
		t.Parallel()

		step := &mockStep{name: "discovery", doFunc: func(context.Context, *model.RunReport) error {
			return context.Canceled
		}}
		p := New(WithLogger(quietLogger()))
		p.AddStep(step)

		report := model.NewRunReport(nil)
		if err := p.Execute(context.Background(), report); !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, expected context.Canceled", err)
		}
		if report.FatalError != "" {
			t.Errorf("expected no fatal error, got %q", report.FatalError)
		}
	})
}

// TestPipelineStop tests graceful stopping.
func TestPipelineStop(t *testing.T) {
	t.Parallel()

	t.Run("stops the running step and skips the rest", func(t *testing.T) {
		t.Parallel()

		p := New(WithLogger(quietLogger()))
		first := &mockStep{name: "discovery"}
		first.doFunc = func(context.Context, *model.RunReport) error {
			p.Stop()
			return nil
		}
		second := &mockStep{name: "enrichment"}
		p.AddSteps(first, second)

		report := model.NewRunReport(nil)
		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first.stopped != 1 {
			t.Errorf("expected the running step to be stopped once, got %d", first.stopped)
		}
		if second.callCount != 0 {
			t.Error("second step should be skipped")
		}
		if !report.Cancelled {
			t.Error("report should be cancelled")
		}
	})

	t.Run("stop before execute runs nothing", func(t *testing.T) {
		t.Parallel()

		step := &mockStep{name: "discovery"}
		p := New(WithLogger(quietLogger()))
		p.AddStep(step)
		p.Stop()

		if err := p.Execute(context.Background(), model.NewRunReport(nil)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if step.callCount != 0 {
			t.Error("step should not run")
		}
	})
}
