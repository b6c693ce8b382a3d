package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestJournal(t *testing.T) *BoltJournal {
	t.Helper()
	j, err := OpenBolt(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestWorkflowListing(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*WorkflowRecord{
		{Workflow: "open", Pool: "A", Total: 3, Succeeded: 3, FinishedAt: base},
		{Workflow: "remove", Pool: "A", Total: 3, Succeeded: 2, Unresolved: []string{"2"}, FinishedAt: base.Add(time.Minute)},
		{Workflow: "open", Pool: "B", Total: 1, Succeeded: 0, Unresolved: []string{"1"}, FinishedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, j.SaveWorkflow(ctx, rec))
	}
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{records[0].ID, records[1].ID, records[2].ID})

	tests := []struct {
		name   string
		filter Filter
		want   []uint64
	}{
		{"all newest first", Filter{}, []uint64{3, 2, 1}},
		{"pool", Filter{Pool: "A"}, []uint64{2, 1}},
		{"unresolved", Filter{OnlyUnresolved: true}, []uint64{3, 2}},
		{"since", Filter{Since: base.Add(time.Minute)}, []uint64{3, 2}},
		{"limit", Filter{Limit: 1}, []uint64{3}},
		{"limit counts matches", Filter{Pool: "A", Limit: 1}, []uint64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.ListWorkflows(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]uint64, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, j.SaveMonitor(ctx, &MonitorRecord{Kind: MonitorRangeExit, Pool: "P", Accounts: []string{"1"}}))
	require.NoError(t, j.Close())

	j, err = OpenBolt(path)
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.SaveMonitor(ctx, &MonitorRecord{Kind: MonitorTerminated, Pool: "P", Reason: "no positions"}))

	got, err := j.ListMonitor(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].ID)
	assert.Equal(t, MonitorTerminated, got[0].Kind)
	assert.Equal(t, []string{"1"}, got[1].Accounts)
}

func TestRecorderJournalsBusEvents(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	bus := events.NewBus(zaptest.NewLogger(t), 8)
	defer bus.Shutdown(ctx)

	rec := NewRecorder(bus, j, zaptest.NewLogger(t))

	summary := domain.NewSummary("reopen", "POOL", 2, []string{"b"})
	require.NoError(t, bus.PublishSync(ctx, &events.WorkflowCompletedEvent{
		BaseEvent: events.NewBase(events.WorkflowCompleted),
		Summary:   summary,
		Duration:  3 * time.Second,
	}))
	require.NoError(t, bus.PublishSync(ctx, &events.ReactionEvent{
		BaseEvent: events.NewBase(events.MonitorReaction),
		Pool:      "POOL",
		Strategy:  "rotate",
		Succeeded: []string{"a"},
		Failed:    []string{"b"},
	}))
	require.NoError(t, bus.PublishSync(ctx, &events.TerminatedEvent{
		BaseEvent: events.NewBase(events.MonitorTerminated),
		Pool:      "POOL",
		Reason:    "unrecovered",
		Detail:    []string{"b"},
	}))

	wf, err := j.ListWorkflows(ctx, Filter{OnlyUnresolved: true})
	require.NoError(t, err)
	require.Len(t, wf, 1)
	assert.Equal(t, "reopen", wf[0].Workflow)
	assert.Equal(t, 1, wf[0].Succeeded)
	assert.Equal(t, []string{"b"}, wf[0].Unresolved)
	assert.Equal(t, 3*time.Second, wf[0].Duration)

	mon, err := j.ListMonitor(ctx, Filter{Pool: "POOL"})
	require.NoError(t, err)
	require.Len(t, mon, 2)
	assert.Equal(t, MonitorTerminated, mon[0].Kind)
	assert.Equal(t, MonitorReaction, mon[1].Kind)
	assert.Equal(t, []string{"b"}, mon[1].Failed)

	rec.Stop()
	require.NoError(t, bus.PublishSync(ctx, &events.RangeExitEvent{
		BaseEvent: events.NewBase(events.RangeExitDetected),
		Pool:      "POOL",
	}))
	mon, err = j.ListMonitor(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, mon, 2, "stopped recorder ignores events")
}
