// Package saga runs a sequence of steps and undoes the completed ones, newest
// first, when a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
)

// Step is one forward action and its optional compensation.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// CompensationFailure is reported when an undo could not be completed and a
// human has to reconcile.
type CompensationFailure struct {
	Saga       string
	Step       string
	FailedStep string
	Err        error
	Cause      error
}

// FailureHandler receives compensation failures, e.g. to queue them for
// reconciliation.
type FailureHandler func(ctx context.Context, f CompensationFailure)

// StepError is returned when a forward step fails.
type StepError struct {
	Step  string
	Index int
	Err   error
	// Compensations that themselves failed, as COMPENSATION_FAILED errors.
	CompensationErrs []error
}

func (e *StepError) Error() string {
	if len(e.CompensationErrs) > 0 {
		return fmt.Sprintf("saga step %s failed: %v (%d compensation(s) failed)", e.Step, e.Err, len(e.CompensationErrs))
	}
	return fmt.Sprintf("saga step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner executes sagas. The zero value logs nowhere and reports nothing.
type Runner struct {
	log       *logging.Logger
	onFailure FailureHandler
}

func NewRunner(lg *logging.Logger, onFailure FailureHandler) *Runner {
	return &Runner{log: lg, onFailure: onFailure}
}

// Run executes steps in order. Once started, steps are not interrupted by
// cancellation of ctx; compensations always run detached from it.
// Compensation failures are logged and handed to the FailureHandler, never retried.
func (r *Runner) Run(ctx context.Context, name string, steps ...Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sctx := context.WithoutCancel(ctx)
	for i, st := range steps {
		err := st.Action(sctx)
		if err == nil {
			continue
		}
		r.log.Warn(sctx, logging.FlagSubscription, "saga.step_failed", "saga step failed, compensating", map[string]any{
			"saga":  name,
			"step":  st.Name,
			"error": err,
		})
		se := &StepError{Step: st.Name, Index: i, Err: err}
		for j := i - 1; j >= 0; j-- {
			prev := steps[j]
			if prev.Compensate == nil {
				continue
			}
			if cerr := prev.Compensate(sctx); cerr != nil {
				se.CompensationErrs = append(se.CompensationErrs, r.compensationFailed(sctx, name, prev.Name, st.Name, cerr, err))
			}
		}
		return se
	}
	return nil
}

func (r *Runner) compensationFailed(ctx context.Context, saga, step, failedStep string, cerr, cause error) error {
	r.log.Error(ctx, logging.FlagReconcile, apperr.CodeCompensationFailed, "compensation failed, manual reconciliation required", map[string]any{
		"saga":       saga,
		"step":       step,
		"failedStep": failedStep,
		"error":      cerr,
		"cause":      cause,
	})
	if r.onFailure != nil {
		r.onFailure(ctx, CompensationFailure{Saga: saga, Step: step, FailedStep: failedStep, Err: cerr, Cause: cause})
	}
	return apperr.New(apperr.CodeCompensationFailed, "compensation "+step+" failed",
		apperr.WithCause(cerr),
		apperr.WithData(map[string]any{"saga": saga, "step": step, "failedStep": failedStep}))
}

// AsStepError extracts a StepError from err.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	ok := errors.As(err, &se)
	return se, ok
}
