package observability

// Counter is a monotonically increasing count.
type Counter interface {
	Inc()
}

// LabeledCounter counts per label value (rejection reason, exit reason).
type LabeledCounter interface {
	Inc(label string)
}

// Gauge is a value that goes up and down.
type Gauge interface {
	Inc()
	Dec()
}

// Metrics is the set of instruments the pipeline reports to.
type Metrics struct {
	// Detector.
	LogBatches       Counter
	CreationEvents   Counter
	TxFetchRetries   Counter
	TxFetchAbandoned Counter
	PoolsRejected    LabeledCounter
	PoolAnomalies    Counter
	PoolsDetected    Counter

	// Paper trading.
	SessionsStarted Counter
	SessionsClosed  LabeledCounter
	SessionsOpen    Gauge
	PriceTicks      Counter
	BalanceErrors   Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopLabeled struct{}

func (noopLabeled) Inc(string) {}

type noopGauge struct{}

func (noopGauge) Inc() {}
func (noopGauge) Dec() {}

// NewNoop returns Metrics that discard everything.
func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		LogBatches:       n,
		CreationEvents:   n,
		TxFetchRetries:   n,
		TxFetchAbandoned: n,
		PoolsRejected:    noopLabeled{},
		PoolAnomalies:    n,
		PoolsDetected:    n,
		SessionsStarted:  n,
		SessionsClosed:   noopLabeled{},
		SessionsOpen:     noopGauge{},
		PriceTicks:       n,
		BalanceErrors:    n,
	}
}
