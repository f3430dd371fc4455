package metrics

import (
	"net/http"

	"lottery/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the lottery collectors on a dedicated registry and doubles
// as an events.Sink.
type Metrics struct {
	registry *prometheus.Registry

	entries        *prometheus.CounterVec
	stakes         *prometheus.CounterVec
	drawsRequested *prometheus.CounterVec
	drawsResolved  *prometheus.CounterVec
	drawsCancelled *prometheus.CounterVec
	payouts        *prometheus.CounterVec
	payoutFailures *prometheus.CounterVec
	keeperErrors   *prometheus.CounterVec
	poolBalance    *prometheus.GaugeVec
	entrants       *prometheus.GaugeVec
	state          *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_entries_total",
			Help: "Accepted entries.",
		}, []string{"lottery"}),
		stakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_stakes_total",
			Help: "Sum of accepted stakes in base units.",
		}, []string{"lottery"}),
		drawsRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_draws_requested_total",
			Help: "Draws started with a randomness request.",
		}, []string{"lottery"}),
		drawsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_draws_resolved_total",
			Help: "Draws resolved with a paid winner.",
		}, []string{"lottery"}),
		drawsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_draws_cancelled_total",
			Help: "Stale draws reopened without a winner.",
		}, []string{"lottery"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_payouts_total",
			Help: "Sum of awarded pools in base units.",
		}, []string{"lottery"}),
		payoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_payout_failures_total",
			Help: "Resolved draws whose payout broadcast failed.",
		}, []string{"lottery"}),
		keeperErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_keeper_errors_total",
			Help: "Keeper step failures by step.",
		}, []string{"lottery", "step"}),
		poolBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lottery_pool_balance",
			Help: "Current pool balance in base units.",
		}, []string{"lottery"}),
		entrants: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lottery_entrants",
			Help: "Current entrant count.",
		}, []string{"lottery"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lottery_state",
			Help: "Draw state: 0 open, 1 calculating.",
		}, []string{"lottery"}),
	}

	m.registry.MustRegister(
		m.entries,
		m.stakes,
		m.drawsRequested,
		m.drawsResolved,
		m.drawsCancelled,
		m.payouts,
		m.payoutFailures,
		m.keeperErrors,
		m.poolBalance,
		m.entrants,
		m.state,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Publish(ev events.Event) {
	switch ev.Kind {
	case events.KindEntryAccepted:
		m.entries.WithLabelValues(ev.Lottery).Inc()
		m.stakes.WithLabelValues(ev.Lottery).Add(float64(ev.Amount))
	case events.KindDrawRequested:
		m.drawsRequested.WithLabelValues(ev.Lottery).Inc()
	case events.KindWinnerResolved:
		m.drawsResolved.WithLabelValues(ev.Lottery).Inc()
		m.payouts.WithLabelValues(ev.Lottery).Add(float64(ev.Amount))
	case events.KindDrawCancelled:
		m.drawsCancelled.WithLabelValues(ev.Lottery).Inc()
	case events.KindPayoutFailed:
		m.payoutFailures.WithLabelValues(ev.Lottery).Inc()
	}
}

// Observe records the current ledger snapshot.
func (m *Metrics) Observe(lottery string, state uint8, entrants int64, pool uint64) {
	m.state.WithLabelValues(lottery).Set(float64(state))
	m.entrants.WithLabelValues(lottery).Set(float64(entrants))
	m.poolBalance.WithLabelValues(lottery).Set(float64(pool))
}

func (m *Metrics) KeeperError(lottery string, step string) {
	m.keeperErrors.WithLabelValues(lottery, step).Inc()
}
