// Package saga runs multi-document write sequences with compensation.
//
// A saga is an ordered list of steps. When a critical step fails, every
// completed step that registered a compensation is undone in reverse order
// and the failure is returned as *Error. Best-effort steps only log.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// STEPS
// ═══════════════════════════════════════════════════════════════════════════

// Step is one unit of a saga.
type Step struct {
	Name   string
	Action func(ctx context.Context) error
	// Compensate undoes Action. Nil means there is nothing to undo.
	Compensate func(ctx context.Context) error
	// BestEffort steps never fail the saga and are never compensated.
	BestEffort bool
}

// Status of a finished saga.
type Status string

const (
	StatusSucceeded          Status = "succeeded"
	StatusCompensated        Status = "compensated"
	StatusCompensationFailed Status = "compensation_failed"
)

// Report describes what a run did.
type Report struct {
	Saga      string
	Status    Status
	Completed []string
	// Degraded lists best-effort steps that failed.
	Degraded map[string]error
	Duration time.Duration
}

// ═══════════════════════════════════════════════════════════════════════════
// ERROR
// ═══════════════════════════════════════════════════════════════════════════

// Error is returned when a critical step fails.
type Error struct {
	Saga  string
	Step  string
	Cause error
	// CompensationErr joins every compensation failure, nil if all undo
	// steps succeeded.
	CompensationErr error
}

func (e *Error) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("saga %s: step %s failed: %v (compensation failed: %v)", e.Saga, e.Step, e.Cause, e.CompensationErr)
	}
	return fmt.Sprintf("saga %s: step %s failed: %v", e.Saga, e.Step, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Compensated reports whether every undo step succeeded.
func (e *Error) Compensated() bool { return e.CompensationErr == nil }

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}

// ═══════════════════════════════════════════════════════════════════════════
// RUNNER
// ═══════════════════════════════════════════════════════════════════════════

const tracerName = "github.com/taosiq/p2pskillx-sub000/saga"

// Runner executes sagas of one kind.
type Runner struct {
	name   string
	log    *logger.Logger
	tracer trace.Tracer
}

// NewRunner creates a runner. Spans go to the global tracer provider.
func NewRunner(name string, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		name:   name,
		log:    log.With(logger.Component("saga"), logger.String("saga", name)),
		tracer: otel.Tracer(tracerName),
	}
}

// Run executes steps in order. Once a compensable step has completed the
// remaining steps and all compensations run on a context that ignores
// caller cancellation, so a dropped request cannot strand a half-written
// saga.
func (r *Runner) Run(ctx context.Context, steps ...Step) (*Report, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "saga."+r.name)
	defer span.End()

	report := &Report{Saga: r.name, Degraded: map[string]error{}}
	var done []Step
	detached := false

	for _, step := range steps {
		stepCtx := ctx
		if detached {
			stepCtx = context.WithoutCancel(ctx)
		}

		err := r.runStep(stepCtx, step)
		if err == nil {
			done = append(done, step)
			report.Completed = append(report.Completed, step.Name)
			if step.Compensate != nil && !step.BestEffort {
				detached = true
			}
			continue
		}

		if step.BestEffort {
			report.Degraded[step.Name] = err
			r.log.Warn("best-effort step failed", logger.Step(step.Name), logger.Err(err))
			continue
		}

		compErr := r.compensate(context.WithoutCancel(ctx), done)
		report.Duration = time.Since(start)
		report.Status = StatusCompensated
		if compErr != nil {
			report.Status = StatusCompensationFailed
		}
		span.SetAttributes(attribute.String("saga.failed_step", step.Name), attribute.String("saga.status", string(report.Status)))
		span.SetStatus(codes.Error, err.Error())

		r.log.Warn("saga step failed",
			logger.Step(step.Name),
			logger.Err(err),
			logger.String("status", string(report.Status)),
			logger.Latency(report.Duration),
		)
		return report, &Error{Saga: r.name, Step: step.Name, Cause: err, CompensationErr: compErr}
	}

	report.Status = StatusSucceeded
	report.Duration = time.Since(start)
	span.SetAttributes(attribute.String("saga.status", string(report.Status)), attribute.Int("saga.degraded", len(report.Degraded)))
	r.log.Debug("saga completed", logger.Latency(report.Duration), logger.Int("degraded", len(report.Degraded)))
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, step Step) (err error) {
	ctx, span := r.tracer.Start(ctx, "saga.step."+step.Name,
		trace.WithAttributes(attribute.Bool("saga.best_effort", step.BestEffort)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Name, p)
		}
	}()
	return step.Action(ctx)
}

// compensate undoes done in reverse order. Every compensation is attempted
// even if an earlier one fails.
func (r *Runner) compensate(ctx context.Context, done []Step) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil || step.BestEffort {
			continue
		}
		cctx, span := r.tracer.Start(ctx, "saga.compensate."+step.Name)
		err := step.Compensate(cctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.log.Error("compensation failed", logger.Step(step.Name), logger.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		} else {
			r.log.Info("step compensated", logger.Step(step.Name))
		}
		span.End()
	}
	return errors.Join(errs...)
}
