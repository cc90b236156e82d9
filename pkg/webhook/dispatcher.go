package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openfroyo/payroll/pkg/engine"
)

// Config configures webhook delivery.
type Config struct {
	// Endpoint receives the messages. Without one messages are dropped.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`

	// Rate is the number of requests per second, zero is unlimited.
	Rate float64 `yaml:"rate" validate:"min=0"`

	// Burst is the number of requests allowed at once.
	Burst int `yaml:"burst" validate:"min=0"`

	// Timeout bounds one request.
	Timeout time.Duration `yaml:"timeout"`

	// QueueSize is the capacity of the tracked message queue.
	QueueSize int `yaml:"queueSize" validate:"min=0"`
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() Config {
	return Config{
		Rate:      10,
		Burst:     5,
		Timeout:   10 * time.Second,
		QueueSize: 256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// Dispatcher posts webhook messages as JSON to the configured endpoint.
// Send queues tracked messages for a background worker; Invoke posts
// synchronously and returns the response body.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger

	queue  chan engine.WebhookMessage
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its delivery worker.
// The worker stops when Close is called.
func NewDispatcher(cfg Config, logger zerolog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	d := &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger.With().Str("component", "webhook").Logger(),
		queue:   make(chan engine.WebhookMessage, cfg.QueueSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		if _, err := d.post(ctx, msg); err != nil {
			d.logger.Warn().Err(err).Str("action", string(msg.Action)).Str("message_id", msg.ID).Msg("Webhook delivery failed")
		}
		cancel()
	}
}

// Send queues a tracked message. It fails when the queue is full or the
// dispatcher is closed.
func (d *Dispatcher) Send(_ context.Context, message engine.WebhookMessage) error {
	message = prepare(message)
	message.Tracked = true

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return engine.NewInfrastructureError("webhook dispatcher is closed", nil).WithCode(engine.ErrCodeWebhook)
	}
	select {
	case d.queue <- message:
		return nil
	default:
		return engine.NewInfrastructureError(
			fmt.Sprintf("webhook queue is full (%d messages)", d.cfg.QueueSize), nil).
			WithCode(engine.ErrCodeWebhook)
	}
}

// Invoke posts an untracked message and returns the response body.
func (d *Dispatcher) Invoke(ctx context.Context, message engine.WebhookMessage) (string, error) {
	message = prepare(message)
	message.Tracked = false
	return d.post(ctx, message)
}

func (d *Dispatcher) post(ctx context.Context, message engine.WebhookMessage) (string, error) {
	if d.cfg.Endpoint == "" {
		d.logger.Debug().Str("action", string(message.Action)).Msg("No webhook endpoint, message dropped")
		return "", nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return "", engine.NewInfrastructureError("webhook rate limit wait failed", err).WithCode(engine.ErrCodeWebhook)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal webhook message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Action", string(message.Action))

	resp, err := d.client.Do(req)
	if err != nil {
		return "", engine.NewInfrastructureError("webhook request failed", err).WithCode(engine.ErrCodeWebhook)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", engine.NewInfrastructureError("failed to read webhook response", err).WithCode(engine.ErrCodeWebhook)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", engine.NewInfrastructureError(
			fmt.Sprintf("webhook endpoint returned %d", resp.StatusCode), nil).
			WithCode(engine.ErrCodeWebhook).
			WithDetail("action", string(message.Action))
	}
	d.logger.Debug().Str("action", string(message.Action)).Str("message_id", message.ID).Msg("Webhook delivered")
	return string(data), nil
}

// Close stops accepting messages and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func prepare(message engine.WebhookMessage) engine.WebhookMessage {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Created.IsZero() {
		message.Created = time.Now().UTC()
	}
	return message
}

var _ engine.WebhookDispatcher = (*Dispatcher)(nil)
