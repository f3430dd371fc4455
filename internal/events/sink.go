package events

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"lottery/internal/logger"

	"go.uber.org/zap"
)

// Sink receives committed events. Implementations must return quickly;
// errors are handled internally.
type Sink interface {
	Publish(Event)
}

type Noop struct{}

func (Noop) Publish(Event) {}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Publish(ev Event) {
	for _, sink := range m {
		sink.Publish(ev)
	}
}

type LogSink struct{}

func (LogSink) Publish(ev Event) {
	logger.Info("event: "+string(ev.Kind),
		zap.String("id", ev.ID),
		zap.String("lottery", ev.Lottery),
		zap.String("address", ev.Address),
		zap.Uint64("amount", ev.Amount),
		zap.Uint64("request id", ev.RequestID),
	)
}

const (
	DefaultWebhookTimeout = 500 * time.Millisecond
	DefaultWebhookBuffer  = 128
)

// WebhookSink posts events as JSON to a URL from a background worker, so
// Publish never waits on the remote end. Events are dropped when the queue
// is full; delivery is best-effort.
type WebhookSink struct {
	url    string
	client *http.Client

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewWebhookSink(url string, timeout time.Duration, buffer int) *WebhookSink {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if buffer <= 0 {
		buffer = DefaultWebhookBuffer
	}

	w := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *WebhookSink) Publish(ev Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return
	}

	select {
	case w.queue <- ev:
	default:
		logger.Warn("webhook sink: queue full, dropping event", zap.String("kind", string(ev.Kind)), zap.String("id", ev.ID))
	}
}

// Close stops accepting events and waits for the queued ones to be posted.
func (w *WebhookSink) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	<-w.done
}

func (w *WebhookSink) run() {
	defer close(w.done)
	for ev := range w.queue {
		w.post(ev)
	}
}

func (w *WebhookSink) post(ev Event) {
	if w.url == "" {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("webhook sink: marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		logger.Error("webhook sink: request failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", ev.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		logger.Error("webhook sink: post failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Error("webhook sink: remote error", zap.String("kind", string(ev.Kind)), zap.Int("code", resp.StatusCode))
		return
	}

	logger.Debug("webhook sink: delivered", zap.String("kind", string(ev.Kind)), zap.Int("code", resp.StatusCode))
}
