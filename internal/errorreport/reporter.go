// Package errorreport forwards embed errors to a collector endpoint in
// batches. All methods are nil-safe: a nil *Reporter is a no-op, which is
// what New returns when no endpoint is configured.
package errorreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
)

// Entry is one forwarded error.
type Entry struct {
	ErrorType  string         `json:"errorType"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message"`
	Instance   string         `json:"instance,omitempty"`
	Host       string         `json:"host,omitempty"`
	SDKVersion string         `json:"sdkVersion,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Config holds configuration for the reporter.
type Config struct {
	Endpoint   string // collector URL; empty disables reporting
	Token      string // sent as a bearer token when set
	Host       string // analytics host stamped on every entry
	SDKVersion string

	FlushInterval time.Duration // periodic flush (default: 30s)
	MaxBatchSize  int           // immediate flush threshold (default: 10)
	MaxQueueSize  int           // entries kept before dropping (default: 100)
	HTTPTimeout   time.Duration // POST timeout (default: 10s)
}

// Reporter batches entries and POSTs them as {"errors": [...]}.
type Reporter struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	queue   []Entry
	dropped int
	started bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns a Reporter for cfg, or nil when cfg.Endpoint is empty.
func New(cfg Config) *Reporter {
	if cfg.Endpoint == "" {
		return nil
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 10
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Reporter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		now:    time.Now,
		queue:  make([]Entry, 0, cfg.MaxBatchSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the periodic flush.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	go r.loop()
}

// Close stops the periodic flush and sends whatever is still queued.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() {
		close(r.stop)
		r.mu.Lock()
		started := r.started
		r.mu.Unlock()
		if started {
			<-r.done
			return
		}
		r.flush()
	})
}

// Report queues e. Reaching MaxBatchSize triggers an immediate flush.
func (r *Reporter) Report(e Entry) {
	if r == nil {
		return
	}
	if e.Timestamp == "" {
		e.Timestamp = r.now().UTC().Format(time.RFC3339)
	}
	if e.Host == "" {
		e.Host = r.cfg.Host
	}
	if e.SDKVersion == "" {
		e.SDKVersion = r.cfg.SDKVersion
	}

	r.mu.Lock()
	if len(r.queue) >= r.cfg.MaxQueueSize {
		r.dropped++
		r.mu.Unlock()
		slog.Warn("errorreport: queue full, dropping error", "maxQueueSize", r.cfg.MaxQueueSize, "code", e.Code)
		return
	}
	r.queue = append(r.queue, e)
	full := len(r.queue) >= r.cfg.MaxBatchSize
	r.mu.Unlock()

	if full {
		go r.flush()
	}
}

// ReportError queues err raised by the given instance. Taxonomy errors keep
// their type and code; anything else is reported as an API error.
func (r *Reporter) ReportError(err error, instance string) {
	if r == nil || err == nil {
		return
	}
	e := Entry{ErrorType: string(sdkerr.TypeAPI), Message: err.Error(), Instance: instance}
	if se, ok := sdkerr.As(err); ok {
		e.ErrorType = string(se.Type)
		e.Code = string(se.Code)
	}
	r.Report(e)
}

// Dropped returns the number of entries discarded because the queue was full.
func (r *Reporter) Dropped() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Reporter) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Reporter) flush() {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.queue
	r.queue = make([]Entry, 0, r.cfg.MaxBatchSize)
	r.mu.Unlock()

	if err := r.send(context.Background(), batch); err != nil {
		slog.Warn("errorreport: failed to forward errors", "count", len(batch), "error", err)
	}
}

func (r *Reporter) send(ctx context.Context, entries []Entry) error {
	body, err := json.Marshal(map[string]any{"errors": entries})
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	return nil
}
