// Package analytics forwards product events to the external analytics
// collector in batches, off the request path.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/oggyb/crewsnow/internal/config"
)

const (
	EventLikeSent     = "like_sent"
	EventMatchCreated = "match_created"
	EventMessageSent  = "message_sent"
	EventQuotaDenied  = "quota_exceeded"
	EventPremium      = "premium_status_changed"
)

// Event is one analytics event.
type Event struct {
	Name       string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Tracker accepts events without blocking the caller.
type Tracker interface {
	Track(e Event)
}

// Options configures a Forwarder.
type Options struct {
	CollectorURL  string
	APIKey        string
	BatchSize     int
	FlushInterval time.Duration
	RatePerSecond float64
	QueueSize     int
	Client        *http.Client
}

// Forwarder buffers events and posts them to <collector>/batch/.
//
// Behavior:
//   - Track never blocks; when the queue is full the event is dropped and
//     counted.
//   - A batch is sent when it reaches BatchSize or every FlushInterval.
//   - Sends are throttled by a token bucket. Responses are not processed
//     beyond logging a non-2xx status.
//   - With no CollectorURL the forwarder is disabled and Track is a no-op.
type Forwarder struct {
	opts    Options
	url     string
	log     *slog.Logger
	limiter *rate.Limiter
	queue   chan Event
	dropped atomic.Int64
	sent    atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a forwarder. Call Start to begin delivery.
func New(opts Options, log *slog.Logger) *Forwarder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 10 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.BatchSize * 20
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}

	f := &Forwarder{
		opts:  opts,
		log:   log,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		queue: make(chan Event, opts.QueueSize),
	}
	if opts.CollectorURL != "" {
		f.url = strings.TrimRight(opts.CollectorURL, "/") + "/batch/"
		f.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return f
}

// NewFromConfig builds a forwarder from the Analytics section.
func NewFromConfig(cfg *config.Config, log *slog.Logger) *Forwarder {
	return New(Options{
		CollectorURL:  cfg.Analytics.CollectorURL,
		APIKey:        cfg.Analytics.APIKey,
		BatchSize:     cfg.Analytics.BatchSize,
		FlushInterval: cfg.Analytics.FlushInterval,
		RatePerSecond: cfg.Analytics.RatePerSecond,
	}, log)
}

// Enabled reports whether a collector is configured.
func (f *Forwarder) Enabled() bool { return f != nil && f.url != "" }

// Dropped is the number of events discarded because the queue was full.
func (f *Forwarder) Dropped() int64 { return f.dropped.Load() }

// Sent is the number of events handed to the collector.
func (f *Forwarder) Sent() int64 { return f.sent.Load() }

// Track enqueues e.
func (f *Forwarder) Track(e Event) {
	if !f.Enabled() {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case f.queue <- e:
	default:
		if n := f.dropped.Add(1); n == 1 || n%100 == 0 {
			f.log.Warn("analytics queue full, dropping events", "dropped", n)
		}
	}
}

// Start runs the delivery loop until Stop or ctx is done.
func (f *Forwarder) Start(ctx context.Context) {
	if !f.Enabled() {
		close(f.done)
		return
	}
	go f.loop(ctx)
}

// Stop flushes queued events, bounded by ctx, and stops the loop.
func (f *Forwarder) Stop(ctx context.Context) error {
	if !f.Enabled() {
		return nil
	}
	f.stopOnce.Do(func() { close(f.stop) })
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) loop(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, f.opts.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		f.send(ctx, batch)
		batch = make([]Event, 0, f.opts.BatchSize)
	}

	for {
		select {
		case e := <-f.queue:
			batch = append(batch, e)
			if len(batch) >= f.opts.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-f.stop:
			f.drain(&batch)
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(drainCtx)
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (f *Forwarder) drain(batch *[]Event) {
	for {
		select {
		case e := <-f.queue:
			*batch = append(*batch, e)
		default:
			return
		}
	}
}

type batchRequest struct {
	APIKey string  `json:"api_key"`
	Batch  []Event `json:"batch"`
}

func (f *Forwarder) send(ctx context.Context, batch []Event) {
	if err := f.limiter.Wait(ctx); err != nil {
		f.log.Warn("analytics flush skipped", "events", len(batch), "err", err)
		return
	}

	body, err := json.Marshal(batchRequest{APIKey: f.opts.APIKey, Batch: batch})
	if err != nil {
		f.log.Warn("analytics marshal failed", "err", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		f.log.Warn("analytics request failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.opts.Client.Do(req)
	if err != nil {
		f.log.Warn("analytics delivery failed", "events", len(batch), "err", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 300 {
		f.log.Warn("analytics collector rejected batch", "events", len(batch), "err", fmt.Sprintf("HTTP %d", resp.StatusCode))
		return
	}
	f.sent.Add(int64(len(batch)))
}
