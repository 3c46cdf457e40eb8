package errorreport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
)

// collector records every batch posted to it.
type collector struct {
	mu      sync.Mutex
	entries []Entry
	auth    string
	posts   int
}

func newCollector(t *testing.T) (*collector, *httptest.Server) {
	t.Helper()
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Errors []Entry `json:"errors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode batch: %v", err)
		}
		c.mu.Lock()
		c.entries = append(c.entries, payload.Errors...)
		c.auth = r.Header.Get("Authorization")
		c.posts++
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *collector) snapshot() ([]Entry, string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...), c.auth, c.posts
}

func TestNilReporterSafe(t *testing.T) {
	r := New(Config{})
	if r != nil {
		t.Fatal("expected nil reporter without an endpoint")
	}
	r.Start()
	r.Report(Entry{Message: "ignored"})
	r.ReportError(errors.New("ignored"), "inst-1")
	if r.Dropped() != 0 {
		t.Fatal("nil reporter counted drops")
	}
	r.Close()
}

func TestReportStampsEntries(t *testing.T) {
	r := New(Config{Endpoint: "http://localhost", Host: "https://ts.example.com", SDKVersion: "1.0.0",
		FlushInterval: time.Hour, MaxBatchSize: 100})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Report(Entry{Message: "no timestamp"})
	r.Report(Entry{Message: "explicit", Timestamp: "2025-12-31T00:00:00Z", Host: "other"})

	r.mu.Lock()
	defer r.mu.Unlock()
	if got := r.queue[0].Timestamp; got != "2026-01-02T03:04:05Z" {
		t.Errorf("timestamp = %q", got)
	}
	if r.queue[0].Host != "https://ts.example.com" || r.queue[0].SDKVersion != "1.0.0" {
		t.Errorf("entry not stamped: %+v", r.queue[0])
	}
	if r.queue[1].Timestamp != "2025-12-31T00:00:00Z" || r.queue[1].Host != "other" {
		t.Errorf("explicit fields overwritten: %+v", r.queue[1])
	}
}

func TestReportDropsWhenQueueFull(t *testing.T) {
	r := New(Config{Endpoint: "http://localhost", FlushInterval: time.Hour, MaxBatchSize: 100, MaxQueueSize: 2})

	for range 4 {
		r.Report(Entry{Message: "err"})
	}

	r.mu.Lock()
	queued := len(r.queue)
	r.mu.Unlock()
	if queued != 2 {
		t.Errorf("queued = %d, want 2", queued)
	}
	if r.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", r.Dropped())
	}
}

func TestReportErrorKeepsTaxonomy(t *testing.T) {
	r := New(Config{Endpoint: "http://localhost", FlushInterval: time.Hour, MaxBatchSize: 100})

	r.ReportError(sdkerr.ErrOffline, "inst-1")
	r.ReportError(errors.New("plain failure"), "inst-2")
	r.ReportError(nil, "inst-3")

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) != 2 {
		t.Fatalf("queued = %d, want 2", len(r.queue))
	}
	if e := r.queue[0]; e.ErrorType != string(sdkerr.TypeNetwork) || e.Code != string(sdkerr.CodeOffline) || e.Instance != "inst-1" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e := r.queue[1]; e.ErrorType != string(sdkerr.TypeAPI) || e.Code != "" || e.Message != "plain failure" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestImmediateFlushAtBatchSize(t *testing.T) {
	c, srv := newCollector(t)
	r := New(Config{Endpoint: srv.URL, Token: "secret", FlushInterval: time.Hour, MaxBatchSize: 3})

	for _, msg := range []string{"err1", "err2", "err3"} {
		r.Report(Entry{Message: msg})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entries, _, _ := c.snapshot(); len(entries) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	entries, auth, posts := c.snapshot()
	if len(entries) != 3 || posts != 1 {
		t.Fatalf("got %d entries in %d posts, want 3 in 1", len(entries), posts)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestCloseFlushesRemaining(t *testing.T) {
	for _, started := range []bool{true, false} {
		c, srv := newCollector(t)
		r := New(Config{Endpoint: srv.URL, FlushInterval: time.Hour, MaxBatchSize: 100})
		if started {
			r.Start()
		}
		r.Report(Entry{Message: "remaining1"})
		r.Report(Entry{Message: "remaining2"})

		r.Close()
		r.Close()

		entries, auth, _ := c.snapshot()
		if len(entries) != 2 {
			t.Errorf("started=%t: flushed %d entries, want 2", started, len(entries))
		}
		if auth != "" {
			t.Errorf("started=%t: unexpected Authorization %q", started, auth)
		}
	}
}

func TestCollectorFailureDoesNotPanic(t *testing.T) {
	r := New(Config{Endpoint: "http://localhost:1", FlushInterval: time.Hour, HTTPTimeout: 100 * time.Millisecond})
	r.Report(Entry{Message: "lost"})
	r.flush()
}

func TestDefaultConfig(t *testing.T) {
	r := New(Config{Endpoint: "http://localhost"})
	if r.cfg.FlushInterval != 30*time.Second || r.cfg.MaxBatchSize != 10 ||
		r.cfg.MaxQueueSize != 100 || r.cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("unexpected defaults %+v", r.cfg)
	}
}
