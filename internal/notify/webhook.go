package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/finpulse/alert-engine/internal/observ"
)

// WebhookConfig configures the webhook dispatcher.
type WebhookConfig struct {
	URL            string
	QueueSize      int           // default 1000
	DedupeWindow   time.Duration // default 60s
	MaxRetries     int           // default 3
	BackoffBase    time.Duration // default 500ms
	TimeoutSeconds int           // default 10
}

type queuedNotification struct {
	userID string
	n      Notification
}

// WebhookDispatcher posts notifications to the dispatch service through a
// bounded queue with a worker goroutine. Delivery retries with exponential
// backoff; a full queue drops the notification rather than blocking the
// evaluator.
type WebhookDispatcher struct {
	cfg        WebhookConfig
	httpClient *http.Client
	queue      chan queuedNotification

	mu          sync.Mutex
	lastSent    map[string]time.Time // alert id -> last enqueue, dedupe window
	lastCleanup time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWebhookDispatcher(cfg WebhookConfig) *WebhookDispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &WebhookDispatcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		queue:      make(chan queuedNotification, cfg.QueueSize),
		lastSent:   map[string]time.Time{},
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go d.worker()
	return d
}

// Dispatch enqueues a notification. Never blocks.
func (d *WebhookDispatcher) Dispatch(_ context.Context, userID string, n Notification) {
	if d.isDuplicate(n.AlertID) {
		observ.IncCounter("notifications_deduped_total", nil)
		return
	}
	select {
	case d.queue <- queuedNotification{userID: userID, n: n}:
	default:
		observ.IncCounter("notifications_dropped_total", map[string]string{"reason": "queue_full"})
	}
}

// Close stops the worker. In-flight deliveries are abandoned; the alert
// latch in the store already happened, so nothing re-fires on restart.
func (d *WebhookDispatcher) Close() {
	d.cancel()
	<-d.done
}

func (d *WebhookDispatcher) isDuplicate(alertID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.lastSent[alertID]; ok && now.Sub(last) < d.cfg.DedupeWindow {
		return true
	}
	d.lastSent[alertID] = now

	if now.Sub(d.lastCleanup) > d.cfg.DedupeWindow {
		for id, ts := range d.lastSent {
			if now.Sub(ts) >= d.cfg.DedupeWindow {
				delete(d.lastSent, id)
			}
		}
		d.lastCleanup = now
	}
	return false
}

func (d *WebhookDispatcher) worker() {
	defer close(d.done)
	for {
		select {
		case <-d.ctx.Done():
			return
		case q := <-d.queue:
			d.deliver(q)
		}
	}
}

func (d *WebhookDispatcher) deliver(q queuedNotification) {
	payload, err := json.Marshal(struct {
		UserID string `json:"user_id"`
		Notification
	}{UserID: q.userID, Notification: q.n})
	if err != nil {
		return
	}

	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := d.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-d.ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			observ.IncCounter("notification_delivery_errors_total", map[string]string{"kind": "network"})
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			observ.IncCounter("notifications_sent_total", nil)
			return
		}
		observ.IncCounter("notification_delivery_errors_total", map[string]string{"kind": "http"})
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Not retryable: the dispatch service rejected the payload.
			return
		}
	}
	observ.Log("notification_delivery_failed", map[string]any{
		"alert_id": q.n.AlertID,
		"attempts": d.cfg.MaxRetries,
	})
}

var _ Dispatcher = (*WebhookDispatcher)(nil)
