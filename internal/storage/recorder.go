// internal/storage/recorder.go
package storage

import (
	"context"
	"fmt"

	"github.com/rovshanmuradov/meteora-bot/internal/events"
	"go.uber.org/zap"
)

// Recorder пишет события шины в журнал.
type Recorder struct {
	journal Journal
	logger  *zap.Logger
	subs    []events.Subscription
}

// NewRecorder подписывается на события сценариев и мониторинга из bus.
func NewRecorder(bus *events.Bus, journal Journal, logger *zap.Logger) *Recorder {
	r := &Recorder{journal: journal, logger: logger.Named("journal")}
	r.subs = []events.Subscription{
		bus.SubscribeFunc(events.WorkflowCompleted, r.onWorkflow),
		bus.SubscribeFunc(events.RangeExitDetected, r.onMonitor),
		bus.SubscribeFunc(events.MonitorReaction, r.onMonitor),
		bus.SubscribeFunc(events.MonitorTerminated, r.onMonitor),
	}
	return r
}

// Stop отписывается от шины. Журнал остается открытым.
func (r *Recorder) Stop() {
	for _, s := range r.subs {
		s.Unsubscribe()
	}
	r.subs = nil
}

func (r *Recorder) onWorkflow(ctx context.Context, e events.Event) error {
	ev, ok := e.(*events.WorkflowCompletedEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", e)
	}
	s := ev.Summary
	rec := &WorkflowRecord{
		Workflow:      s.Workflow,
		Pool:          s.Pool,
		Total:         s.Total,
		Succeeded:     s.Succeeded,
		Unresolved:    s.Unresolved,
		CloseFailures: s.CloseFailures,
		Rounds:        s.Rounds,
		Duration:      ev.Duration,
		FinishedAt:    ev.Timestamp(),
	}
	if err := r.journal.SaveWorkflow(ctx, rec); err != nil {
		r.logger.Warn("Failed to journal workflow", zap.String("workflow", s.Workflow), zap.Error(err))
		return err
	}
	r.logger.Debug("Workflow journaled", zap.Uint64("id", rec.ID), zap.String("workflow", s.Workflow))
	return nil
}

func (r *Recorder) onMonitor(ctx context.Context, e events.Event) error {
	rec := &MonitorRecord{At: e.Timestamp()}
	switch ev := e.(type) {
	case *events.RangeExitEvent:
		rec.Kind, rec.Pool, rec.Accounts = MonitorRangeExit, ev.Pool, ev.Accounts
	case *events.ReactionEvent:
		rec.Kind, rec.Pool, rec.Strategy = MonitorReaction, ev.Pool, ev.Strategy
		rec.Accounts, rec.Failed = ev.Succeeded, ev.Failed
	case *events.TerminatedEvent:
		rec.Kind, rec.Pool, rec.Reason, rec.Accounts = MonitorTerminated, ev.Pool, ev.Reason, ev.Detail
	default:
		return fmt.Errorf("unexpected event %T", e)
	}
	if err := r.journal.SaveMonitor(ctx, rec); err != nil {
		r.logger.Warn("Failed to journal monitor event", zap.String("kind", string(rec.Kind)), zap.Error(err))
		return err
	}
	return nil
}
