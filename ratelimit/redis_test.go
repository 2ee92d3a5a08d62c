package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), s
}

func TestRedisStoreBurst(t *testing.T) {
	store, _ := newTestRedisStore(t)
	limiter := New(StaticPolicy(testPolicy), store, Config{})
	for i := 0; i < 10; i++ {
		if !limiter.Allow(context.Background(), submission("192.168.1.1", "ted@petitions.je", start.Add(time.Duration(i)*time.Second))).Allowed {
			t.Fatalf("Submission %d should have been allowed", i+1)
		}
	}
	d := limiter.Allow(context.Background(), submission("192.168.1.1", "ted@petitions.je", start.Add(10*time.Second)))
	if d.Allowed || d.Reason != ReasonBurst {
		t.Errorf("Expected burst block from redis store, got %+v", d)
	}
}

func TestRedisStoreMatchesMemoryStore(t *testing.T) {
	redisStore, _ := newTestRedisStore(t)
	memoryStore := NewMemoryStore()
	windows := testPolicy.Windows()
	// A mix of bursts and pauses that trips both windows.
	offsets := []time.Duration{}
	for i := 0; i < 40; i++ {
		offset := time.Duration(i) * 5 * time.Second
		if i > 15 {
			offset += 2 * time.Minute
		}
		offsets = append(offsets, offset)
	}
	for i, offset := range offsets {
		now := start.Add(offset)
		want, err := memoryStore.Hit(context.Background(), "ip:10.0.0.1", now, windows)
		if err != nil {
			t.Fatal(err)
		}
		got, err := redisStore.Hit(context.Background(), "ip:10.0.0.1", now, windows)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Hit %d at +%v: redis store said %d, memory store said %d", i, offset, got, want)
		}
	}
}

func TestRedisStoreSetsExpiry(t *testing.T) {
	store, s := newTestRedisStore(t)
	if _, err := store.Hit(context.Background(), "ip:10.0.0.1", start, testPolicy.Windows()); err != nil {
		t.Fatal(err)
	}
	if ttl := s.TTL(redisKeyPrefix + "ip:10.0.0.1"); ttl != 300*time.Second {
		t.Errorf("Expected key to expire after the longest window, got %v", ttl)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, s := newTestRedisStore(t)
	s.Close()
	limiter := New(StaticPolicy(testPolicy), store, Config{})
	d := limiter.Allow(context.Background(), submission("192.168.1.1", "ted@petitions.je", start))
	if d.Allowed || d.Reason != ReasonUnavailable {
		t.Errorf("Expected closed redis to fail closed, got %+v", d)
	}
}
