// Package xrpl streams validated XRPL transactions over WebSocket and
// turns the interesting ones into signal submissions.
//
// The listener owns its reconnect loop: a dropped connection is retried
// with exponential backoff and a fresh subscription, and a failed
// submission never kills the stream.
package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/metrics"
)

// Submitter accepts raw signal payloads; in production this is the
// ingestion pipeline.
type Submitter interface {
	Submit(ctx context.Context, raw map[string]any) error
}

// Config for the XRPL listener
type Config struct {
	WebsocketURL string
	XRPUSDRate   float64 // spot rate used to approximate notional value
	DialTimeout  time.Duration
	MaxBackoff   time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		XRPUSDRate:  2.0,
		DialTimeout: 10 * time.Second,
		MaxBackoff:  2 * time.Minute,
	}
}

// Listener subscribes to the XRPL transaction stream
type Listener struct {
	cfg       Config
	submitter Submitter
	logger    *slog.Logger
}

// New creates a listener
func New(cfg Config, submitter Submitter, logger *slog.Logger) *Listener {
	return &Listener{cfg: cfg, submitter: submitter, logger: logger}
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff on any failure.
func (l *Listener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := l.consume(ctx); err != nil {
			l.logger.Warn("xrpl stream dropped", "error", err, "retry_in", backoff)
		}
		metrics.FeedReconnectsTotal.WithLabelValues("xrpl").Inc()

		select {
		case <-ctx.Done():
			l.logger.Info("xrpl listener stopped")
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.cfg.MaxBackoff {
			backoff = l.cfg.MaxBackoff
		}
	}
}

func (l *Listener) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: l.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, l.cfg.WebsocketURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.cfg.WebsocketURL, err)
	}
	defer conn.Close()

	sub := map[string]any{
		"id":      1,
		"command": "subscribe",
		"streams": []string{"transactions"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	l.logger.Info("xrpl stream connected", "url", l.cfg.WebsocketURL)

	// Close the connection when ctx ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg streamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			l.logger.Debug("undecodable stream message", "error", err)
			continue
		}
		raw, ok := l.translate(&msg)
		if !ok {
			continue
		}
		if err := l.submitter.Submit(ctx, raw); err != nil {
			l.logger.Warn("submission rejected", "error", err)
		}
	}
}

// streamMessage is the subset of the XRPL transaction stream we read.
type streamMessage struct {
	Type        string          `json:"type"`
	Validated   bool            `json:"validated"`
	Transaction json.RawMessage `json:"transaction"`
	Meta        struct {
		DeliveredAmount json.RawMessage `json:"delivered_amount"`
	} `json:"meta"`
}

type transaction struct {
	TransactionType string          `json:"TransactionType"`
	Hash            string          `json:"hash"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	DestinationTag  *int64          `json:"DestinationTag"`
	Amount          json.RawMessage `json:"Amount"`
	LimitAmount     *issuedAmount   `json:"LimitAmount"`
	TakerGets       json.RawMessage `json:"TakerGets"`
	Date            int64           `json:"date"`
}

type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// rippleEpochOffset converts the ledger's epoch (2000-01-01) to Unix.
const rippleEpochOffset = 946_684_800

// translate maps a validated ledger transaction to a raw submission.
// Transaction types outside our interest set are skipped.
func (l *Listener) translate(msg *streamMessage) (map[string]any, bool) {
	if msg.Type != "transaction" || !msg.Validated || len(msg.Transaction) == 0 {
		return nil, false
	}
	var tx transaction
	if err := json.Unmarshal(msg.Transaction, &tx); err != nil {
		return nil, false
	}

	ts := tx.Date + rippleEpochOffset
	if tx.Date == 0 {
		ts = time.Now().Unix()
	}

	raw := map[string]any{
		"timestamp": ts,
		"tags":      []string{},
		"source":    tx.Account,
	}
	if tx.Hash != "" {
		raw["id"] = fmt.Sprintf("%s:%s", kindFor(tx.TransactionType), tx.Hash)
	}
	if tx.Destination != "" {
		raw["destination"] = tx.Destination
	}
	if tx.DestinationTag != nil {
		raw["dest_tag"] = float64(*tx.DestinationTag)
	}

	switch tx.TransactionType {
	case "Payment":
		raw["kind"] = "payment"
		amount := msg.Meta.DeliveredAmount
		if len(amount) == 0 {
			amount = tx.Amount
		}
		xrp, usd := l.notional(amount)
		raw["amount_xrp"] = xrp
		raw["usd_value"] = usd
		raw["summary"] = fmt.Sprintf("payment of %.0f XRP", xrp)

	case "EscrowFinish":
		raw["kind"] = "payment"
		raw["sub_type"] = "escrow_finish"
		raw["summary"] = "escrow release observed"

	case "TrustSet":
		raw["kind"] = "trustline"
		if tx.LimitAmount != nil {
			if limit, err := strconv.ParseFloat(tx.LimitAmount.Value, 64); err == nil {
				raw["limit"] = limit
			}
			raw["issuer"] = tx.LimitAmount.Issuer
			raw["summary"] = fmt.Sprintf("trustline to %s/%s", tx.LimitAmount.Currency, tx.LimitAmount.Issuer)
		}

	case "OfferCreate":
		raw["kind"] = "orderbook"
		xrp, usd := l.notional(tx.TakerGets)
		raw["amount_xrp"] = xrp
		raw["usd_value"] = usd
		raw["summary"] = "orderbook offer placed"

	default:
		return nil, false
	}
	return raw, true
}

// notional reads an XRPL amount (drops string or issued-currency object)
// and returns the XRP quantity plus its approximate USD value.
func (l *Listener) notional(amount json.RawMessage) (xrp, usd float64) {
	if len(amount) == 0 {
		return 0, 0
	}

	// Native XRP amounts arrive as a string of drops.
	var drops string
	if err := json.Unmarshal(amount, &drops); err == nil {
		if n, err := strconv.ParseFloat(drops, 64); err == nil {
			xrp = n / 1_000_000
			return xrp, xrp * l.cfg.XRPUSDRate
		}
		return 0, 0
	}

	// Issued currencies carry a decimal value; treat stablecoins at par.
	var issued issuedAmount
	if err := json.Unmarshal(amount, &issued); err == nil {
		if v, err := strconv.ParseFloat(issued.Value, 64); err == nil {
			return 0, v
		}
	}
	return 0, 0
}

func kindFor(txType string) string {
	switch txType {
	case "Payment", "EscrowFinish":
		return "payment"
	case "TrustSet":
		return "trustline"
	case "OfferCreate":
		return "orderbook"
	}
	return "unknown"
}
