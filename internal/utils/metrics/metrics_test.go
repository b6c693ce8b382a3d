package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestObserveTransaction(t *testing.T) {
	c := NewCollector()
	c.ObserveTransaction("build", time.Second, nil)
	c.ObserveTransaction("build", time.Second, errors.New("boom"))
	c.ObserveTransaction("presigned", time.Second, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("build", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("build", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("presigned", "success")))

	c.Reset()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.transactions.WithLabelValues("build", "success")))
}

func TestSubscribe(t *testing.T) {
	c := NewCollector()
	bus := events.NewBus(zaptest.NewLogger(t), 16)
	t.Cleanup(func() { _ = bus.Shutdown(context.Background()) })
	stop := c.Subscribe(bus)
	ctx := context.Background()

	require.NoError(t, bus.PublishSync(ctx, &events.WorkflowCompletedEvent{
		BaseEvent: events.NewBase(events.WorkflowCompleted),
		Summary:   domain.NewSummary("open", "pool", 3, []string{"b", "c"}),
		Duration:  2 * time.Second,
	}))
	require.NoError(t, bus.PublishSync(ctx, &events.ReactionEvent{
		BaseEvent: events.NewBase(events.MonitorReaction),
		Pool:      "pool",
		Strategy:  "rotate",
		Succeeded: []string{"a"},
		Failed:    []string{"b"},
	}))
	require.NoError(t, bus.PublishSync(ctx, &events.TerminatedEvent{
		BaseEvent: events.NewBase(events.MonitorTerminated),
		Pool:      "pool",
		Reason:    "close_failed",
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflows.WithLabelValues("open", "unresolved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.unresolved.WithLabelValues("open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reactions.WithLabelValues("rotate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reactions.WithLabelValues("rotate", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.terminations.WithLabelValues("close_failed")))

	stop()
	require.NoError(t, bus.PublishSync(ctx, &events.TerminatedEvent{
		BaseEvent: events.NewBase(events.MonitorTerminated),
		Reason:    "close_failed",
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.terminations.WithLabelValues("close_failed")), "unsubscribed")
}

func TestServe(t *testing.T) {
	c := NewCollector()
	c.RecordWorkflow("remove", 0, time.Second)

	srv, err := c.Serve("127.0.0.1:0", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `dlmm_bot_workflow_runs_total{result="ok",workflow="remove"} 1`)
}
