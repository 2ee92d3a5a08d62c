package stats

import (
	"context"
	"fmt"
	"net/http"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Signing workflow metrics
var (
	// Submissions counts signing form submissions by outcome: created,
	// redirected, invalid, rate_limited, not_open, not_found or error.
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_signature_submissions_total",
			Help: "Signature form submissions by outcome",
		},
		[]string{"outcome"},
	)

	// Verifications counts confirmation link clicks by outcome.
	Verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_signature_verifications_total",
			Help: "Confirmation link verifications by outcome",
		},
		[]string{"outcome"},
	)

	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_rate_limit_decisions_total",
			Help: "Rate limiter decisions by result",
		},
		[]string{"result"},
	)

	Emails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_emails_total",
			Help: "Outgoing e-mails by kind and delivery status",
		},
		[]string{"kind", "status"},
	)

	// Signatures holds the latest totals from UpdateRegularly, by state.
	Signatures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "petitions_signatures",
			Help: "Signatures currently stored, by state",
		},
		[]string{"state"},
	)
)

// HTTP metrics
var (
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "method", "status"},
	)
)

// Registry is private to this service so that tests and the /metrics
// endpoint only see our collectors plus the runtime ones.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Submissions,
		Verifications,
		RateLimitDecisions,
		Emails,
		Signatures,
		HTTPRequestDuration,
	)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Totals is a snapshot of how many signatures are in each state.
type Totals struct {
	Time   time.Time        `json:"time"`
	States map[string]int64 `json:"states"`
}

// Store wraps storage for signature totals.
type Store interface {
	SignatureTotals(ctx context.Context) (map[string]int64, error)
}

// Update reads current totals into the Signatures gauge. Errors are logged
// and reported.
func Update(ctx context.Context, store Store) {
	totals, err := store.SignatureTotals(ctx)
	if err != nil {
		err = fmt.Errorf("Failed to update signature totals: %v", err)
		log.Println(err)
		raven.CaptureError(err, nil)
		return
	}
	Signatures.Reset()
	for state, count := range totals {
		Signatures.WithLabelValues(state).Set(float64(count))
	}
}

// UpdateRegularly runs Update at regular intervals until ctx is done.
func UpdateRegularly(ctx context.Context, store Store, interval time.Duration) {
	for {
		Update(ctx, store)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Get returns a snapshot of the signature totals.
func Get(ctx context.Context, store Store) (Totals, error) {
	states, err := store.SignatureTotals(ctx)
	if err != nil {
		return Totals{}, err
	}
	return Totals{Time: time.Now().UTC(), States: states}, nil
}
