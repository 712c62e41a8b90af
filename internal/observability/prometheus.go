package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "clmm_sniper"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promLabeled struct {
	vec *prometheus.CounterVec
}

func (p promLabeled) Inc(label string) {
	p.vec.WithLabelValues(label).Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Inc() { p.gauge.Inc() }
func (p promGauge) Dec() { p.gauge.Dec() }

// Prometheus backs Metrics with a dedicated registry.
type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	logBatches       prometheus.Counter
	creationEvents   prometheus.Counter
	txFetchRetries   prometheus.Counter
	txFetchAbandoned prometheus.Counter
	poolsRejected    *prometheus.CounterVec
	poolAnomalies    prometheus.Counter
	poolsDetected    prometheus.Counter
	sessionsStarted  prometheus.Counter
	sessionsClosed   *prometheus.CounterVec
	sessionsOpen     prometheus.Gauge
	priceTicks       prometheus.Counter
	balanceErrors    prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

// NewPrometheus registers all instruments on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:         prometheus.NewRegistry(),
		logBatches:       newCounter("log_batches_total", "Program log batches received."),
		creationEvents:   newCounter("creation_events_total", "Log batches announcing a pool creation."),
		txFetchRetries:   newCounter("tx_fetch_retries_total", "Transaction fetches that returned nothing and were retried."),
		txFetchAbandoned: newCounter("tx_fetch_abandoned_total", "Creation events dropped after exhausting fetch attempts."),
		poolsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "pools_rejected_total",
			Help:      "Creation events not traded, by reason.",
		}, []string{"reason"}),
		poolAnomalies:   newCounter("pool_anomalies_total", "Creation events that violated decoding invariants."),
		poolsDetected:   newCounter("pools_detected_total", "Pools classified and handed to the paper trader."),
		sessionsStarted: newCounter("sessions_started_total", "Paper trading sessions started."),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "sessions_closed_total",
			Help:      "Paper trading sessions closed, by exit reason.",
		}, []string{"reason"}),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "sessions_open",
			Help:      "Paper trading sessions currently open.",
		}),
		priceTicks:    newCounter("price_ticks_total", "Vault balance samples turned into a price."),
		balanceErrors: newCounter("balance_errors_total", "Failed vault balance reads."),
	}

	p.registry.MustRegister(
		p.logBatches, p.creationEvents, p.txFetchRetries, p.txFetchAbandoned,
		p.poolsRejected, p.poolAnomalies, p.poolsDetected,
		p.sessionsStarted, p.sessionsClosed, p.sessionsOpen,
		p.priceTicks, p.balanceErrors,
	)

	p.Metrics = &Metrics{
		LogBatches:       promCounter{p.logBatches},
		CreationEvents:   promCounter{p.creationEvents},
		TxFetchRetries:   promCounter{p.txFetchRetries},
		TxFetchAbandoned: promCounter{p.txFetchAbandoned},
		PoolsRejected:    promLabeled{p.poolsRejected},
		PoolAnomalies:    promCounter{p.poolAnomalies},
		PoolsDetected:    promCounter{p.poolsDetected},
		SessionsStarted:  promCounter{p.sessionsStarted},
		SessionsClosed:   promLabeled{p.sessionsClosed},
		SessionsOpen:     promGauge{p.sessionsOpen},
		PriceTicks:       promCounter{p.priceTicks},
		BalanceErrors:    promCounter{p.balanceErrors},
	}
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
