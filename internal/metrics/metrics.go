// Package metrics provides Prometheus instrumentation for the pool agent.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/auction-pool/internal/agent"
	"github.com/atmx/auction-pool/internal/model"
)

var (
	// InvocationsTotal counts agent invocations by command and outcome.
	InvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_invocations_total",
		Help: "Total agent invocations",
	}, []string{"command", "outcome"})

	// InvocationLatency tracks invocation latency by command.
	InvocationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_invocation_latency_seconds",
		Help:    "Agent invocation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	// InvocationErrors counts aborted invocations by error class.
	InvocationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_invocation_errors_total",
		Help: "Aborted invocations by error class",
	}, []string{"command", "class"})

	// Settlements counts settled rounds by result.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_settlements_total",
		Help: "Settled auction rounds by result",
	}, []string{"result"})

	TotalSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_total_supply",
		Help: "Total deposited reference denom",
	})

	RewardIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_reward_index",
		Help: "Cumulative profit per supply unit",
	})

	ProfitToDistribute = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_profit_to_distribute",
		Help: "Profit pending the next index fold",
	})

	AccumulatedProfit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_accumulated_profit",
		Help: "Lifetime profit folded into the index",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// KeeperTicks counts keeper loop iterations by action taken.
	KeeperTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_keeper_ticks_total",
		Help: "Keeper iterations by action",
	}, []string{"action"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Observer records agent invocations.
type Observer struct{}

var _ agent.Observer = Observer{}

func (Observer) InvocationCommitted(res *agent.Result, elapsed time.Duration) {
	InvocationsTotal.WithLabelValues(res.Command, "committed").Inc()
	InvocationLatency.WithLabelValues(res.Command).Observe(elapsed.Seconds())
	if res.Command == agent.CmdSettle {
		Settlements.WithLabelValues(res.Attributes["result"]).Inc()
	}
	if res.Ledger != nil {
		SetLedger(res.Ledger)
	}
}

func (Observer) InvocationAborted(command string, err error, elapsed time.Duration) {
	InvocationsTotal.WithLabelValues(command, "aborted").Inc()
	InvocationLatency.WithLabelValues(command).Observe(elapsed.Seconds())
	InvocationErrors.WithLabelValues(command, agent.Classify(err).String()).Inc()
}

// SetLedger publishes the ledger gauges.
func SetLedger(g *model.GlobalLedger) {
	TotalSupply.Set(g.TotalSupply.InexactFloat64())
	RewardIndex.Set(g.Index.InexactFloat64())
	ProfitToDistribute.Set(g.ProfitToDistribute.InexactFloat64())
	AccumulatedProfit.Set(g.AccumulatedProfit.InexactFloat64())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern, not the raw path, to bound label cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
