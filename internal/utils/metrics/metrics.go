// internal/utils/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rovshanmuradov/meteora-bot/internal/events"
	"go.uber.org/zap"
)

// Subscribe feeds workflow and monitor events of bus into the collector.
// The returned func unsubscribes.
func (c *Collector) Subscribe(bus *events.Bus) (stop func()) {
	subs := []events.Subscription{
		bus.SubscribeFunc(events.WorkflowCompleted, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(*events.WorkflowCompletedEvent); ok {
				c.RecordWorkflow(ev.Summary.Workflow, len(ev.Summary.Unresolved), ev.Duration)
			}
			return nil
		}),
		bus.SubscribeFunc(events.RangeExitDetected, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(*events.RangeExitEvent); ok {
				c.rangeExits.WithLabelValues(ev.Pool).Add(float64(len(ev.Accounts)))
			}
			return nil
		}),
		bus.SubscribeFunc(events.MonitorReaction, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(*events.ReactionEvent); ok {
				c.reactions.WithLabelValues(ev.Strategy, "success").Add(float64(len(ev.Succeeded)))
				c.reactions.WithLabelValues(ev.Strategy, "failed").Add(float64(len(ev.Failed)))
			}
			return nil
		}),
		bus.SubscribeFunc(events.MonitorTerminated, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(*events.TerminatedEvent); ok {
				c.terminations.WithLabelValues(ev.Reason).Inc()
			}
			return nil
		}),
	}
	return func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}
}

// RecordWorkflow counts one finished workflow.
func (c *Collector) RecordWorkflow(workflow string, unresolved int, d time.Duration) {
	result := "ok"
	if unresolved > 0 {
		result = "unresolved"
		c.unresolved.WithLabelValues(workflow).Add(float64(unresolved))
	}
	c.workflows.WithLabelValues(workflow, result).Inc()
	c.workflowDuration.WithLabelValues(workflow).Observe(d.Seconds())
}

// Handler serves /metrics and /health.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Server exposes the collector over HTTP.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
}

// Serve starts listening on addr in the background.
func (c *Collector) Serve(addr string, logger *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv:    &http.Server{Handler: c.Handler(), ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger.Named("metrics"),
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("📈 Metrics server started", zap.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr is the bound address, useful with port 0.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
