// Package metrics exposes Prometheus metrics for the SDK debugger.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sdkdebugger"

// Registry holds every debugger metric plus the Go runtime and process
// collectors. The global default registry is left alone so embedding
// programs do not see our series.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)
}

var (
	// intercepted counts script requests seen by the interceptor, by decision.
	intercepted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_intercepted_total",
		Help:      "Script requests evaluated by the interceptor.",
	}, []string{"decision"})

	// ComponentsRegistered counts stubs that registered a debug record.
	ComponentsRegistered = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "components_registered_total",
		Help:      "Component stubs registered.",
	})

	creates = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "creates_total",
		Help:      "Component create calls by outcome.",
	}, []string{"component", "status"})

	createDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "create_duration_seconds",
		Help:      "Time from the page's create call to a proxied instance, including the real script load.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"component"})

	functionCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "function_calls_total",
		Help:      "Observed method calls on proxied instances.",
	}, []string{"component"})

	// ClientMetadataSent counts client configuration disclosures. At most
	// one per page.
	ClientMetadataSent = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_metadata_sent_total",
		Help:      "Client configuration disclosures.",
	})

	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests served, by route pattern.",
	}, []string{"path", "status"})

	buildInfo = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Always 1, labelled with the running build.",
	}, []string{"version", "go_version"})
)

// Handler serves the debugger registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// SetBuildInfo publishes the running build.
func SetBuildInfo(version, goVersion string) {
	buildInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordInterception records an interceptor decision.
func RecordInterception(decision string) {
	intercepted.WithLabelValues(decision).Inc()
}

// RecordCreate records the outcome of a proxied create call.
func RecordCreate(component, status string, d time.Duration) {
	creates.WithLabelValues(component, status).Inc()
	createDuration.WithLabelValues(component).Observe(d.Seconds())
}

// RecordFunctionCall records an observed instance method call.
func RecordFunctionCall(component string) {
	functionCalls.WithLabelValues(component).Inc()
}

// RecordHTTPRequest records a served API request.
func RecordHTTPRequest(path, status string) {
	httpRequests.WithLabelValues(path, status).Inc()
}
