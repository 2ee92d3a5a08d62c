package ratelimit

import (
	"context"
	"fmt"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/stats"
	"github.com/petitions-gov-je/signatures-backend/util"
	log "github.com/sirupsen/logrus"
)

// Reasons carried by a Decision.
const (
	ReasonAllowListed = "allow-listed"
	ReasonBurst       = "burst"
	ReasonSustained   = "sustained"
	ReasonUnavailable = "unavailable"
)

// Store keeps the per-fingerprint event log.
type Store interface {
	// Hit atomically counts the events recorded for key inside each window
	// ending at now. If a window is already full, Hit returns its index and
	// records nothing. Otherwise it records one event at now and returns -1.
	Hit(ctx context.Context, key string, now time.Time, windows []Window) (int, error)
	// Prune deletes events older than before, returning how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PolicySource loads the current Policy.
type PolicySource interface {
	RateLimitPolicy(ctx context.Context) (Policy, error)
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy Policy

// RateLimitPolicy [interface PolicySource] returns the policy itself.
func (p StaticPolicy) RateLimitPolicy(_ context.Context) (Policy, error) {
	return Policy(p), nil
}

// Granularity selects what submissions are grouped by when counting.
type Granularity string

// Possible values for Granularity
const (
	ByIP     Granularity = "ip"
	ByDomain Granularity = "domain"
)

// Config is the process-level limiter configuration.
type Config struct {
	Granularity Granularity
	// FailOpen lets submissions through when the policy or store is
	// unavailable. By default they are rejected.
	FailOpen bool
	// Store names the event store backend: postgres, redis or memory.
	Store string
}

var configDefaults = map[string]string{
	"RATE_LIMIT_FINGERPRINT": "ip",
	"RATE_LIMIT_FAIL_OPEN":   "false",
	"RATE_LIMIT_STORE":       "postgres",
}

// LoadConfig reads the limiter configuration from the environment.
func LoadConfig() (Config, error) {
	errs := util.Errors{}
	cfg := Config{
		Granularity: Granularity(util.EnvOrDefault("RATE_LIMIT_FINGERPRINT", configDefaults)),
		FailOpen:    util.EnvBool("RATE_LIMIT_FAIL_OPEN", configDefaults, &errs),
		Store:       util.EnvOrDefault("RATE_LIMIT_STORE", configDefaults),
	}
	if cfg.Granularity != ByIP && cfg.Granularity != ByDomain {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_FINGERPRINT must be ip or domain, got %q", cfg.Granularity))
	}
	switch cfg.Store {
	case "postgres", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_STORE must be postgres, redis or memory, got %q", cfg.Store))
	}
	if len(errs) > 0 {
		return cfg, errs
	}
	return cfg, nil
}

// Submission describes one attempt to sign, as seen by the limiter.
type Submission struct {
	IP    string
	Email string
	Time  time.Time
}

// Decision is the limiter's verdict on a Submission.
type Decision struct {
	Allowed bool
	// Empty for ordinary allowed submissions.
	Reason string
}

// Limiter gates public submissions.
type Limiter struct {
	policies PolicySource
	store    Store
	cfg      Config
}

// New creates a Limiter.
func New(policies PolicySource, store Store, cfg Config) *Limiter {
	if cfg.Granularity == "" {
		cfg.Granularity = ByIP
	}
	return &Limiter{policies: policies, store: store, cfg: cfg}
}

func (l *Limiter) fingerprint(s Submission, domain string) string {
	if l.cfg.Granularity == ByDomain && len(domain) > 0 {
		return "domain:" + domain
	}
	return "ip:" + s.IP
}

// Allow decides whether s may proceed. Allowed submissions are recorded for
// later counting, unless they come from an allow-listed origin. Allow never
// returns an error: if the limiter can't decide, it falls back to the
// configured fail-open or fail-closed behaviour and reports the failure.
func (l *Limiter) Allow(ctx context.Context, s Submission) Decision {
	decision := l.allow(ctx, s)
	result := decision.Reason
	if decision.Allowed && result == "" {
		result = "allowed"
	}
	stats.RateLimitDecisions.WithLabelValues(result).Inc()
	return decision
}

func (l *Limiter) allow(ctx context.Context, s Submission) Decision {
	policy, err := l.policies.RateLimitPolicy(ctx)
	if err != nil {
		return l.unavailable(err, s)
	}
	domain := models.EmailDomain(s.Email)
	allowList := NewAllowList(policy.AllowedDomains, policy.AllowedIPs)
	if allowList.AllowsIP(s.IP) || allowList.AllowsDomain(domain) {
		return Decision{Allowed: true, Reason: ReasonAllowListed}
	}
	windows := policy.Windows()
	if len(windows) == 0 {
		return Decision{Allowed: true}
	}
	blocked, err := l.store.Hit(ctx, l.fingerprint(s, domain), s.Time, windows)
	if err != nil {
		return l.unavailable(err, s)
	}
	if blocked >= 0 {
		log.WithFields(log.Fields{
			"ip":     s.IP,
			"domain": domain,
			"window": windows[blocked].Name,
		}).Info("Submission rate limited")
		return Decision{Allowed: false, Reason: windows[blocked].Name}
	}
	return Decision{Allowed: true}
}

func (l *Limiter) unavailable(err error, s Submission) Decision {
	log.WithFields(log.Fields{
		"ip":        s.IP,
		"fail_open": l.cfg.FailOpen,
	}).WithError(err).Error("Rate limiter unavailable")
	raven.CaptureError(err, map[string]string{"component": "ratelimit"})
	return Decision{Allowed: l.cfg.FailOpen, Reason: ReasonUnavailable}
}
