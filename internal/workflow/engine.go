// Package workflow validates and executes dependency-ordered tool workflows.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
	"golang.org/x/sync/errgroup"
)

// ErrAbort marks executor errors that end the whole execution rather than
// a single step, such as a step routed to an agent that does not exist. The
// step is not retried and no later level runs.
var ErrAbort = errors.New("workflow aborted")

// ToolExecutor invokes a named tool. A step timeout arrives as the ctx
// deadline.
type ToolExecutor interface {
	Execute(ctx context.Context, tool string, params map[string]any) (any, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, tool string, params map[string]any) (any, error)

// Execute calls f.
func (f ToolExecutorFunc) Execute(ctx context.Context, tool string, params map[string]any) (any, error) {
	return f(ctx, tool, params)
}

// Observer receives step lifecycle events. *hooks.Manager satisfies it.
type Observer interface {
	Emit(ctx context.Context, event string, data map[string]any)
}

// Engine runs templates level by level against a tool executor.
type Engine struct {
	exec        ToolExecutor
	log         *logging.Logger
	observer    Observer
	backoff     time.Duration
	maxParallel int
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the step event sink.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithRetryBackoff sets the base wait between step attempts; the wait
// doubles after each failure.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.backoff = d
		}
	}
}

// WithMaxParallel bounds concurrently running steps within a level.
// Zero means unbounded.
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.maxParallel = n }
}

// WithSleep replaces the retry wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// NewEngine creates an engine that runs steps through exec.
func NewEngine(exec ToolExecutor, log *logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		exec:    exec,
		log:     log.Sub("workflow"),
		backoff: time.Second,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the template. Steps of one level run concurrently and the
// next level starts only once every step of the current level is terminal.
// A step whose dependency did not succeed, or whose condition is false, is
// skipped.
//
// Step failures are recorded in the returned context and never returned as
// errors; only structural problems are. A dependency cycle returns a nil
// context; an ErrAbort from the executor returns the partial context.
func (e *Engine) Execute(ctx context.Context, t *Template, vars map[string]any) (*Context, error) {
	levels, err := ResolveLevels(t)
	if err != nil {
		return nil, err
	}

	wctx := newContext(t, vars)
	log := e.log.With("workflow", t.Name).With("execution_id", wctx.ExecutionID)
	log.Info().Int("steps", len(t.Steps)).Int("levels", len(levels)).Msg("workflow started")
	e.emit(ctx, hooks.EventWorkflowStart, map[string]any{
		"workflow":     t.Name,
		"execution_id": wctx.ExecutionID,
		"steps":        len(t.Steps),
		"levels":       len(levels),
	})

	var abortErr error
	for i, level := range levels {
		runnable := make([]*Step, 0, len(level))
		for _, step := range level {
			reason := "execution aborted"
			if abortErr == nil {
				reason = e.skipReason(wctx, step, log)
			}
			if reason != "" {
				e.skip(ctx, t, wctx, step, reason, log)
				continue
			}
			runnable = append(runnable, step)
		}
		if len(runnable) == 0 {
			continue
		}

		log.Debug().Int("level", i).Int("runnable", len(runnable)).Int("size", len(level)).Msg("running level")

		var g errgroup.Group
		if e.maxParallel > 0 {
			g.SetLimit(e.maxParallel)
		}
		for _, step := range runnable {
			g.Go(func() error {
				if err := e.runStep(ctx, t, wctx, step, log); errors.Is(err, ErrAbort) {
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			abortErr = err
			log.Error().Err(err).Int("level", i).Msg("workflow aborted")
		}
	}

	wctx.finish()
	summary := wctx.Summary()
	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("workflow finished")
	e.emit(ctx, hooks.EventWorkflowComplete, map[string]any{
		"workflow":     t.Name,
		"execution_id": wctx.ExecutionID,
		"success":      summary.Failed == 0,
		"succeeded":    summary.Succeeded,
		"failed":       summary.Failed,
		"skipped":      summary.Skipped,
		"duration_ms":  float64(summary.Duration.Microseconds()) / 1000,
	})
	if abortErr != nil {
		return wctx, fmt.Errorf("workflow %s: %w", t.Name, abortErr)
	}
	return wctx, nil
}

func (e *Engine) skip(ctx context.Context, t *Template, wctx *Context, step *Step, reason string, log *logging.Logger) {
	wctx.setStatus(step.ID, StatusSkipped)
	log.Info().Str("step", step.ID).Str("reason", reason).Msg("step skipped")
	e.emit(ctx, hooks.EventStepSkipped, map[string]any{
		"workflow":     t.Name,
		"execution_id": wctx.ExecutionID,
		"step":         step.ID,
		"tool":         step.Tool,
		"reason":       reason,
	})
}

// skipReason returns why a step must not run, or "".
func (e *Engine) skipReason(wctx *Context, step *Step, log *logging.Logger) string {
	for _, dep := range step.DependsOn {
		if wctx.Status(dep) != StatusSuccess {
			return fmt.Sprintf("dependency %s %s", dep, wctx.Status(dep))
		}
	}
	if step.Condition == "" {
		return ""
	}

	vars, results := wctx.snapshot()
	res := evaluateCondition(step.Condition, vars, results)
	if len(res.unresolved) > 0 {
		log.Warn().Str("step", step.ID).Strs("unresolved", res.unresolved).Msg("unresolved placeholders in condition")
	}
	if res.err != nil {
		log.Warn().Err(res.err).Str("step", step.ID).Msg("condition expression not evaluable, running step")
	}
	if !res.run {
		return fmt.Sprintf("condition %q is false", res.resolved)
	}
	return ""
}

// runStep executes one step with retries, records its outcome and returns
// the final error.
func (e *Engine) runStep(ctx context.Context, t *Template, wctx *Context, step *Step, log *logging.Logger) error {
	log = log.With("step", step.ID)

	vars, results := wctx.snapshot()
	sub, unresolved := Substitute(step.Parameters, vars, results)
	if len(unresolved) > 0 {
		log.Warn().Strs("unresolved", unresolved).Msg("unresolved placeholders left as literals")
	}
	params, _ := sub.(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	wctx.setStatus(step.ID, StatusRunning)
	e.emit(ctx, hooks.EventStepStart, map[string]any{
		"workflow":     t.Name,
		"execution_id": wctx.ExecutionID,
		"step":         step.ID,
		"tool":         step.Tool,
	})

	started := time.Now()
	bo := newBackoff(e.backoff)
	var (
		result   any
		err      error
		attempts int
	)
	for attempts < step.RetryCount+1 {
		attempts++
		result, err = e.invoke(ctx, step, params)
		if err == nil || ctx.Err() != nil || errors.Is(err, ErrAbort) {
			break
		}
		if attempts <= step.RetryCount {
			wait := bo.NextBackOff()
			log.Debug().Err(err).Int("attempt", attempts).Dur("backoff", wait).Msg("step attempt failed, retrying")
			if serr := e.sleep(ctx, wait); serr != nil {
				break
			}
		}
	}

	data := map[string]any{
		"workflow":     t.Name,
		"execution_id": wctx.ExecutionID,
		"step":         step.ID,
		"tool":         step.Tool,
		"success":      err == nil,
		"attempts":     attempts,
		"duration_ms":  float64(time.Since(started).Microseconds()) / 1000,
		"timestamp":    started,
	}
	if err != nil {
		wctx.fail(step.ID, err, attempts)
		data["error"] = err.Error()
		log.Warn().Err(err).Int("attempts", attempts).Msg("step failed")
	} else {
		wctx.succeed(step.ID, result, attempts)
		log.Debug().Int("attempts", attempts).Msg("step succeeded")
	}
	e.emit(ctx, hooks.EventStepComplete, data)
	return err
}

// invoke runs a single attempt under the step timeout. A panicking tool
// fails the attempt.
func (e *Engine) invoke(ctx context.Context, step *Step, params map[string]any) (result any, err error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", step.Tool, r)
		}
	}()

	result, err = e.exec.Execute(ctx, step.Tool, params)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("tool %s: %w", step.Tool, ctx.Err())
	}
	return result, err
}

func (e *Engine) emit(ctx context.Context, event string, data map[string]any) {
	if e.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn().Str("event", event).Interface("panic", r).Msg("observer panicked")
		}
	}()
	e.observer.Emit(ctx, event, data)
}

// newBackoff yields base, 2*base, 4*base, ... without jitter.
func newBackoff(base time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = time.Duration(1<<62 - 1)
	bo.Reset()
	return bo
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
