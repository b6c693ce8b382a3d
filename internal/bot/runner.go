// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/task"
	"github.com/rovshanmuradov/meteora-bot/internal/utils/pace"
	"go.uber.org/zap"
)

// Target выполняет отдельные шаги плана.
type Target interface {
	RunTask(ctx context.Context, t *task.Task) (domain.Summary, error)
}

// ErrStepUnresolved останавливает план, если шаг оставил нерешенные аккаунты.
var ErrStepUnresolved = errors.New("step left unresolved accounts")

// StepResult - результат одного выполненного шага плана.
type StepResult struct {
	Task    *task.Task
	Summary domain.Summary
	Err     error
}

// Runner выполняет загруженный план шаг за шагом.
type Runner struct {
	target Target
	sleep  pace.SleepFunc
	logger *zap.Logger
}

func NewRunner(target Target, logger *zap.Logger) *Runner {
	return &Runner{target: target, sleep: pace.Sleep, logger: logger.Named("plan")}
}

// Run executes tasks in order. A failed or unresolved step stops the plan
// unless it has continue_on_failure set. Results of executed steps are returned
// together with the error that stopped the plan.
func (r *Runner) Run(ctx context.Context, tasks []*task.Task) ([]StepResult, error) {
	r.logger.Info(fmt.Sprintf("📋 Running plan with %d steps", len(tasks)))
	results := make([]StepResult, 0, len(tasks))

	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		log := r.logger.With(zap.Int("step", i+1), zap.String("task", t.TaskName), zap.String("workflow", string(t.Workflow)))

		if t.Workflow == task.WorkflowWait {
			log.Info("⏳ Waiting", zap.Duration("delay", t.Delay))
			if err := r.sleep(ctx, t.Delay); err != nil {
				return results, err
			}
			continue
		}

		log.Info("▶️ Step started")
		summary, err := r.target.RunTask(ctx, t)
		results = append(results, StepResult{Task: t, Summary: summary, Err: err})

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			log.Error("❌ Step failed", zap.Error(err))
			if !t.ContinueOnFailure {
				return results, fmt.Errorf("step %q: %w", t.TaskName, err)
			}
		case !summary.OK():
			log.Warn("⚠️ Step left unresolved accounts", zap.Strings("unresolved", summary.Unresolved))
			if !t.ContinueOnFailure {
				return results, fmt.Errorf("step %q: %w", t.TaskName, ErrStepUnresolved)
			}
		default:
			log.Info("✅ Step finished", zap.Int("succeeded", summary.Succeeded))
		}
	}
	return results, nil
}
