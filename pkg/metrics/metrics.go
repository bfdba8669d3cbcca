package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kuryr/kuryr-controller/pkg/kerrors"
)

const (
	controllerMetricPrefix = "kuryr_controller"
	loadBalancerSubSystem  = "lbaas"
	reconcileSubSystem     = "reconcile"
	operationLabel         = "op"
	outcomeLabel           = "outcome"
	handlerLabel           = "handler"
)

// HandlerService and HandlerLoadBalancer label the two reconciliation
// handlers in ReconcileCount/ReconcileDuration.
const (
	HandlerService      = "service_spec"
	HandlerLoadBalancer = "load_balancer"
)

// ReconcileTimer measures and records one handler invocation's outcome and
// duration.
type ReconcileTimer struct {
	handler string
	start   time.Time
}

// NewReconcileTimer starts timing an invocation of the named handler.
func NewReconcileTimer(handler string) *ReconcileTimer {
	return &ReconcileTimer{handler: handler, start: time.Now()}
}

// ObserveOutcome records the elapsed duration and classifies err into an
// outcome label ("ok", "not_ready", "integrity_error" or "error").
func (t *ReconcileTimer) ObserveOutcome(err error) {
	ReconcileDuration.WithLabelValues(t.handler).Observe(time.Since(t.start).Seconds())
	ReconcileCount.WithLabelValues(t.handler, outcomeOf(err)).Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case kerrors.IsResourceNotReady(err):
		return "not_ready"
	case kerrors.IsIntegrityError(err):
		return "integrity_error"
	default:
		return "error"
	}
}

var (
	LoadBalancerRequestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   controllerMetricPrefix,
		Subsystem:   loadBalancerSubSystem,
		Name:        "requests_total",
		Help:        "the number of requests made to the Neutron/Octavia API",
		ConstLabels: nil,
	}, []string{operationLabel})

	LoadBalancerErrorCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   controllerMetricPrefix,
		Subsystem:   loadBalancerSubSystem,
		Name:        "errors_total",
		Help:        "the number of server errors reported when calling the Neutron/Octavia API",
		ConstLabels: nil,
	})

	LoadBalancerResponseTimeHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   controllerMetricPrefix,
		Subsystem:   loadBalancerSubSystem,
		Name:        "request_duration_seconds",
		Help:        "the response times of the Neutron/Octavia API",
		ConstLabels: nil,
		Buckets:     nil,
	}, []string{operationLabel})

	// ReconcileCount tracks outcomes of LBaaSSpecHandler/LoadBalancerHandler
	// on_present/on_deleted invocations, labeled by handler name and outcome
	// ("ok", "not_ready", "integrity_error", "error").
	ReconcileCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   controllerMetricPrefix,
		Subsystem:   reconcileSubSystem,
		Name:        "outcomes_total",
		Help:        "the outcomes of reconciliation handler invocations",
		ConstLabels: nil,
	}, []string{handlerLabel, outcomeLabel})

	// ReconcileDuration tracks wall-clock time spent in a single
	// on_present/on_deleted invocation, including driver calls.
	ReconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   controllerMetricPrefix,
		Subsystem:   reconcileSubSystem,
		Name:        "duration_seconds",
		Help:        "the duration of reconciliation handler invocations",
		ConstLabels: nil,
		Buckets:     nil,
	}, []string{handlerLabel})
)

type Exporter struct {
}

func NewExporter() *Exporter {
	e := &Exporter{}

	return e
}

func (e *Exporter) Describe(descs chan<- *prometheus.Desc) {
	e.describeController(descs)
}

func (e *Exporter) Collect(metrics chan<- prometheus.Metric) {
	e.collectController(metrics)
}

func (e *Exporter) describeController(descs chan<- *prometheus.Desc) {
	LoadBalancerRequestCount.Describe(descs)
	LoadBalancerErrorCount.Describe(descs)
	LoadBalancerResponseTimeHistogram.Describe(descs)
	ReconcileCount.Describe(descs)
	ReconcileDuration.Describe(descs)
}

func (e *Exporter) collectController(metrics chan<- prometheus.Metric) {
	LoadBalancerRequestCount.Collect(metrics)
	LoadBalancerErrorCount.Collect(metrics)
	LoadBalancerResponseTimeHistogram.Collect(metrics)
	ReconcileCount.Collect(metrics)
	ReconcileDuration.Collect(metrics)
}
