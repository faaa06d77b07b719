// Package notify delivers admitted signals to an operator webhook.
//
// Delivery is fire-and-forget: the admission controller decides whether
// a signal goes out at all, the send is retried with capped backoff,
// and a flapping endpoint is shed by a circuit breaker. Exhausted
// retries are logged and dropped, never escalated to the producer.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/admission"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/circuitbreaker"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/idgen"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/retry"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
)

var (
	notifySentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coreflow",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Webhook deliveries that received a 2xx response, by category.",
	}, []string{"category"})

	notifyDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coreflow",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Deliveries dropped after admission rejection, breaker shed, or retry exhaustion.",
	}, []string{"category", "reason"})
)

func init() {
	prometheus.MustRegister(notifySentTotal, notifyDroppedTotal)
}

const (
	maxAttempts = 5
	baseDelay   = time.Second
	sendTimeout = 10 * time.Second
)

// Config identifies the delivery endpoint.
type Config struct {
	WebhookURL string
	Secret     string // HMAC-SHA256 signing key; unsigned when empty
}

// Notifier pushes enriched signals to the configured webhook.
type Notifier struct {
	cfg     Config
	gate    *admission.Controller
	breaker *circuitbreaker.Breaker
	client  *http.Client
	logger  *slog.Logger
}

// New creates a notifier. A nil breaker gets the default thresholds.
func New(cfg Config, gate *admission.Controller, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Notifier {
	if breaker == nil {
		breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return &Notifier{
		cfg:     cfg,
		gate:    gate,
		breaker: breaker,
		client:  &http.Client{Timeout: sendTimeout},
		logger:  logger,
	}
}

// Notify runs admission and, if admitted, delivers the signal in the
// background. It never blocks the caller on the outbound HTTP call.
func (n *Notifier) Notify(ctx context.Context, category string, s *signal.Signal) {
	if n.cfg.WebhookURL == "" {
		return
	}
	if !n.gate.Admit(ctx, category, s) {
		notifyDroppedTotal.WithLabelValues(category, "not_admitted").Inc()
		return
	}
	go n.deliver(category, s)
}

func (n *Notifier) deliver(category string, s *signal.Signal) {
	deliveryID := idgen.WithPrefix("dlv_")

	if !n.breaker.Allow(n.cfg.WebhookURL) {
		notifyDroppedTotal.WithLabelValues(category, "breaker_open").Inc()
		n.logger.Warn("webhook circuit open, dropping", "category", category, "signal", s.ID)
		return
	}

	payload, err := json.Marshal(s)
	if err != nil {
		notifyDroppedTotal.WithLabelValues(category, "encode").Inc()
		n.logger.Error("signal encode failed", "signal", s.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err = retry.Do(ctx, maxAttempts, baseDelay, func() error {
		return n.post(ctx, category, deliveryID, s, payload)
	})
	if err != nil {
		n.breaker.RecordFailure(n.cfg.WebhookURL)
		notifyDroppedTotal.WithLabelValues(category, "exhausted").Inc()
		n.logger.Warn("webhook delivery exhausted, dropping",
			"category", category, "signal", s.ID, "delivery", deliveryID, "error", err)
		return
	}
	n.breaker.RecordSuccess(n.cfg.WebhookURL)
	notifySentTotal.WithLabelValues(category).Inc()
}

func (n *Notifier) post(ctx context.Context, category, deliveryID string, s *signal.Signal, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Coreflow-Delivery", deliveryID)
	req.Header.Set("X-Coreflow-Category", category)
	req.Header.Set("X-Coreflow-Timestamp", fmt.Sprintf("%d", s.Timestamp))
	if n.cfg.Secret != "" {
		req.Header.Set("X-Coreflow-Signature", sign(payload, n.cfg.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// A client error will not heal by retrying.
		return retry.Permanent(fmt.Errorf("webhook rejected with status %d", resp.StatusCode))
	}
	return fmt.Errorf("webhook status %d", resp.StatusCode)
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
