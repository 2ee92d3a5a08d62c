package constituency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/postcodes/SW1A1AA":
			w.Write([]byte(`{"constituency_id": "3415"}`))
		case "/postcodes/BROKEN":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClientLookup(t *testing.T) {
	var hits int32
	server := newTestServer(t, &hits)
	defer server.Close()
	client := Client{URL: server.URL + "/", HTTP: server.Client()}

	var tests = []struct {
		postcode string
		want     string
		wantErr  bool
	}{
		{"SW1A 1AA", "3415", false},
		{"sw1a1aa", "3415", false},
		{"JE2 4WE", "", false},
		{"", "", false},
		{"broken", "", true},
	}
	for _, test := range tests {
		got, err := client.Lookup(context.Background(), test.postcode)
		if (err != nil) != test.wantErr {
			t.Errorf("Lookup(%q) error = %v, wantErr %v", test.postcode, err, test.wantErr)
		}
		if got != test.want {
			t.Errorf("Lookup(%q) = %q, want %q", test.postcode, got, test.want)
		}
	}
}

func TestCacheAvoidsRepeatLookups(t *testing.T) {
	var hits int32
	server := newTestServer(t, &hits)
	defer server.Close()
	cache := NewCache(Client{URL: server.URL, HTTP: server.Client()}, time.Hour)
	for i := 0; i < 3; i++ {
		if id, err := cache.Lookup(context.Background(), "SW1A 1AA"); id != "3415" || err != nil {
			t.Fatalf("Expected 3415, got %q (%v)", id, err)
		}
	}
	cache.Lookup(context.Background(), "JE2 4WE")
	cache.Lookup(context.Background(), "JE24WE")
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("Expected one request per postcode, got %d", hits)
	}
}

type failingLookup struct{ calls int }

func (f *failingLookup) Lookup(_ context.Context, _ string) (string, error) {
	f.calls++
	return "", errors.New("timeout")
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	lookup := &failingLookup{}
	cache := NewCache(lookup, time.Hour)
	cache.Lookup(context.Background(), "SW1A1AA")
	cache.Lookup(context.Background(), "SW1A1AA")
	if lookup.calls != 2 {
		t.Errorf("Expected failed lookups to be retried, got %d calls", lookup.calls)
	}
}

func TestCacheExpires(t *testing.T) {
	cache := NewCache(Static{"SW1A1AA": "3415"}, time.Minute)
	now := time.Date(2019, 4, 18, 6, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	cache.Lookup(context.Background(), "SW1A1AA")
	cache.Lookuper = Static{"SW1A1AA": "9999"}
	if id, _ := cache.Lookup(context.Background(), "SW1A1AA"); id != "3415" {
		t.Errorf("Expected cached answer, got %s", id)
	}
	now = now.Add(2 * time.Minute)
	if id, _ := cache.Lookup(context.Background(), "SW1A1AA"); id != "9999" {
		t.Errorf("Expected cache to expire, got %s", id)
	}
}

func TestNewFromEnvWithoutURL(t *testing.T) {
	lookup, err := NewFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := lookup.Lookup(context.Background(), "SW1A1AA"); id != "" {
		t.Errorf("Expected unknown constituency without an API, got %s", id)
	}
}
