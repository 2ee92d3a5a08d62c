package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petitions-gov-je/signatures-backend/ratelimit"
)

func TestRegularSweepRuns(t *testing.T) {
	called := make(chan bool)
	s := Sweeper{
		Name:     "test",
		Interval: 10 * time.Millisecond,
		Task: func(_ context.Context) error {
			called <- true
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go s.runLoop(ctx, exited)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Errorf("Task wasn't called!")
	}
	cancel()
	// Drain a run that may have started before the cancel.
	select {
	case <-called:
	case <-exited:
		return
	}
	<-exited
}

func TestRegularSweepReportsErrors(t *testing.T) {
	failures := make(chan string, 1)
	s := Sweeper{
		Name:     "failing",
		Interval: 10 * time.Millisecond,
		Task: func(_ context.Context) error {
			return errors.New("database is down")
		},
		OnFailure: func(name string, err error) {
			select {
			case failures <- name:
			default:
			}
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exited := make(chan struct{})
	go s.runLoop(ctx, exited)
	select {
	case name := <-failures:
		if name != "failing" {
			t.Errorf("Expected failure from failing, got %s", name)
		}
	case <-time.After(time.Second):
		t.Errorf("Failure wasn't reported!")
	}
	cancel()
	<-exited
}

func TestPruneRateLimitEvents(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	policy := ratelimit.Policy{BurstRate: 10, BurstPeriod: time.Minute, SustainedRate: 20, SustainedPeriod: 5 * time.Minute}
	windows := policy.Windows()
	now := time.Now()
	for _, at := range []time.Time{now.Add(-time.Hour), now.Add(-10 * time.Minute), now.Add(-time.Minute)} {
		if _, err := store.Hit(context.Background(), "ip:10.0.0.1", at, windows); err != nil {
			t.Fatal(err)
		}
	}
	task := PruneRateLimitEvents(store, ratelimit.StaticPolicy(policy))
	if err := task(context.Background()); err != nil {
		t.Fatal(err)
	}
	pruned, err := store.Prune(context.Background(), now.Add(-policy.Retention()))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 0 {
		t.Errorf("Expected old events to be pruned already, %d left", pruned)
	}
	// The recent event still counts.
	if pruned, _ = store.Prune(context.Background(), now); pruned != 1 {
		t.Errorf("Expected the recent event to survive the sweep, got %d", pruned)
	}
}
