// Package sweeper runs housekeeping tasks, such as pruning old rate limit
// events, at regular intervals.
package sweeper

import (
	"context"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/petitions-gov-je/signatures-backend/ratelimit"
	log "github.com/sirupsen/logrus"
)

// Task is one run of a sweep.
type Task func(ctx context.Context) error

type failureCallback func(name string, err error)

// Called with failure by default.
func reportToSentry(name string, err error) {
	raven.CaptureError(err, map[string]string{"sweeper": name})
}

// Sweeper runs a Task regularly. This structure defines the configurations.
type Sweeper struct {
	// Name: Required with which to refer to this sweeper. Appears in log files and
	// error reports.
	Name string
	// Task: Required-- the work done on every run.
	Task Task
	// Interval: optional; time between runs. If not set, default interval is
	// 1 hour.
	Interval time.Duration
	// OnFailure: optional. Called when a run fails, in addition to the
	// Sentry report.
	OnFailure failureCallback
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval != 0 {
		return s.Interval
	}
	return time.Hour
}

func (s *Sweeper) sweep(ctx context.Context) {
	log.Debugf("[%s sweeper] starting regular sweep", s.Name)
	if err := s.Task(ctx); err != nil {
		log.WithError(err).Errorf("[%s sweeper] sweep failed", s.Name)
		if s.OnFailure != nil {
			s.OnFailure(s.Name, err)
		}
		reportToSentry(s.Name, err)
	}
}

func (s *Sweeper) runLoop(ctx context.Context, exited chan struct{}) {
	defer func() {
		if exited != nil {
			close(exited)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval()):
			s.sweep(ctx)
		}
	}
}

// Run starts the loop of sweeps until ctx is done. The first sweep happens
// after the given Interval.
func (s *Sweeper) Run(ctx context.Context) {
	s.runLoop(ctx, nil)
}

// PruneRateLimitEvents returns a Task deleting rate limit events too old to
// count towards any window of the current policy.
func PruneRateLimitEvents(store ratelimit.Store, policies ratelimit.PolicySource) Task {
	return func(ctx context.Context) error {
		policy, err := policies.RateLimitPolicy(ctx)
		if err != nil {
			return err
		}
		pruned, err := store.Prune(ctx, time.Now().Add(-policy.Retention()))
		if err != nil {
			return err
		}
		log.WithField("pruned", pruned).Info("Pruned rate limit events")
		return nil
	}
}

// PruneRegularly prunes rate limit events every interval until ctx is done.
func PruneRegularly(ctx context.Context, store ratelimit.Store, policies ratelimit.PolicySource, interval time.Duration) {
	s := Sweeper{
		Name:     "rate-limit-prune",
		Task:     PruneRateLimitEvents(store, policies),
		Interval: interval,
	}
	s.Run(ctx)
}
