package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"GrinderAI-Chain/internal/grind"
)

var (
	cyclesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Decision cycles by outcome.",
	}, []string{"outcome"})

	cycleDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of a decision cycle.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
	})

	poolsEvaluated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pools_evaluated_total",
		Help:      "Pools evaluated by the simulation validator.",
	})

	poolFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_failures_total",
		Help:      "Pools dropped from a cycle because of a remote error, by stage.",
	}, []string{"stage"})

	operationsAccepted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_accepted_total",
		Help:      "Operations accepted into a validated batch, by kind.",
	}, []string{"op"})

	lastFiatCost = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_batch_fiat_cost",
		Help:      "Projected fiat cost of the last gated batch.",
	})

	lastBudget = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_batch_budget",
		Help:      "Fiat budget of the last gated batch.",
	})

	schedulerSkipped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_skipped_total",
		Help:      "Ticks skipped because the previous run was still in flight.",
	}, []string{"job"})

	schedulerRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_runs_total",
		Help:      "Scheduled job runs by result.",
	}, []string{"job", "result"})
)

func init() {
	for _, outcome := range grind.Outcomes {
		cyclesTotal.WithLabelValues(string(outcome))
	}
	for _, stage := range []string{grind.StagePositions, grind.StageSimulate} {
		poolFailures.WithLabelValues(stage)
	}
}

// MarketView is the read side of the shared market state.
type MarketView interface {
	PriceEstimate() decimal.Decimal
	TotalIntents() uint64
	Cursor() uint64
}

// RegisterMarketState exposes the shared market state as gauges read at scrape time.
func RegisterMarketState(reg prometheus.Registerer, view MarketView) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price_estimate",
			Help:      "Cached fiat price of the native asset.",
		}, func() float64 { return view.PriceEstimate().InexactFloat64() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_intents",
			Help:      "Cached size of the intent catalog.",
		}, func() float64 { return float64(view.TotalIntents()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "intent_cursor",
			Help:      "Current rotation cursor.",
		}, func() float64 { return float64(view.Cursor()) }),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Recorder feeds cycle reports and scheduler events into the collectors.
type Recorder struct{}

// NewRecorder returns a Recorder bound to the package collectors.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// ObserveCycle implements grind.CycleObserver.
func (*Recorder) ObserveCycle(report grind.CycleReport) {
	cyclesTotal.WithLabelValues(string(report.Outcome)).Inc()
	cycleDuration.Observe(report.Duration().Seconds())
	poolsEvaluated.Add(float64(report.PoolCount))
	for stage, n := range report.FailuresByStage() {
		poolFailures.WithLabelValues(stage).Add(float64(n))
	}
	for _, op := range report.Batch.Ops {
		operationsAccepted.WithLabelValues(op.String()).Inc()
	}
	if !report.Budget.IsZero() {
		lastFiatCost.Set(report.FiatCost.InexactFloat64())
		lastBudget.Set(report.Budget.InexactFloat64())
	}
}

// JobSkipped implements scheduler.Observer.
func (*Recorder) JobSkipped(name string) {
	schedulerSkipped.WithLabelValues(name).Inc()
}

// JobFinished implements scheduler.Observer.
func (*Recorder) JobFinished(name string, _ time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	schedulerRuns.WithLabelValues(name, result).Inc()
}
