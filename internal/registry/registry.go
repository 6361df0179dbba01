// Package registry is the single construction point for the circuit
// breakers, rate limiters, and connection pools that guard external
// services. Every code path touching an external service obtains its triple
// here keyed by (service, credential); constructing these primitives
// anywhere else is forbidden so that subsystems sharing a service also
// share its failure state.
package registry

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Key identifies one external service accessed with one credential.
type Key struct {
	Service    string
	Credential string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Service, k.Credential)
}

// Triple bundles the shared guards for one (service, credential) pair.
type Triple struct {
	Breaker *Breaker
	Limiter *Limiter
	Pool    *ConnPool
}

// Settings configures the primitives created for new keys.
type Settings struct {
	Breaker BreakerSettings
	Limiter LimiterSettings
	Pool    PoolSettings
}

// DefaultSettings returns free-tier defaults.
func DefaultSettings() Settings {
	return Settings{
		Breaker: DefaultBreakerSettings(),
		Limiter: FreeTierLimiter(),
		Pool:    DefaultPoolSettings(),
	}
}

// Registry maps (service, credential) keys to their guard triples.
type Registry struct {
	mu        sync.Mutex
	defaults  Settings
	overrides map[string]Settings // per-service settings
	triples   map[Key]*Triple
}

// New creates a registry with the given default settings.
func New(defaults Settings) *Registry {
	return &Registry{
		defaults:  defaults,
		overrides: make(map[string]Settings),
		triples:   make(map[Key]*Triple),
	}
}

// Configure sets service-specific settings used for keys created later.
// Existing triples are not rebuilt.
func (r *Registry) Configure(service string, settings Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[service] = settings
}

// Get returns the triple for the key, creating it on first use. Callers
// holding the same key always receive the same instances.
func (r *Registry) Get(service, credential string) *Triple {
	key := Key{Service: service, Credential: credential}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.triples[key]; ok {
		return t
	}

	settings := r.defaults
	if s, ok := r.overrides[service]; ok {
		settings = s
	}

	name := key.String()
	t := &Triple{
		Breaker: newBreaker(name, settings.Breaker),
		Limiter: newLimiter(name, settings.Limiter),
		Pool:    newConnPool(name, settings.Pool),
	}
	r.triples[key] = t
	return t
}

// Prometheus metrics, registered once per process.
var (
	metricsOnce    sync.Once
	stateGauge     *prometheus.GaugeVec
	requestCounter *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		stateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "resource_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"service"},
		)
		requestCounter = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resource_circuit_breaker_requests_total",
				Help: "Requests through circuit breakers by result",
			},
			[]string{"service", "result"},
		)
	})
}

func breakerStateGauge() *prometheus.GaugeVec {
	initMetrics()
	return stateGauge
}

func breakerRequests() *prometheus.CounterVec {
	initMetrics()
	return requestCounter
}
