package xrpl

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/logging"
)

func testListener() *Listener {
	cfg := DefaultConfig()
	cfg.XRPUSDRate = 2.0
	return New(cfg, nil, logging.Discard())
}

func message(t *testing.T, tx map[string]any, delivered any) *streamMessage {
	t.Helper()
	txRaw, err := json.Marshal(tx)
	require.NoError(t, err)

	msg := &streamMessage{Type: "transaction", Validated: true, Transaction: txRaw}
	if delivered != nil {
		d, err := json.Marshal(delivered)
		require.NoError(t, err)
		msg.Meta.DeliveredAmount = d
	}
	return msg
}

func TestTranslate_Payment(t *testing.T) {
	l := testListener()

	msg := message(t, map[string]any{
		"TransactionType": "Payment",
		"hash":            "ABC123",
		"Account":         "rSender",
		"Destination":     "rReceiver",
		"DestinationTag":  77,
		"date":            800000000,
	}, "5000000000000") // 5M XRP in drops

	raw, ok := l.translate(msg)
	require.True(t, ok)
	assert.Equal(t, "payment", raw["kind"])
	assert.Equal(t, "payment:ABC123", raw["id"])
	assert.Equal(t, "rSender", raw["source"])
	assert.Equal(t, "rReceiver", raw["destination"])
	assert.Equal(t, float64(77), raw["dest_tag"])
	assert.Equal(t, 5_000_000.0, raw["amount_xrp"])
	assert.Equal(t, 10_000_000.0, raw["usd_value"])
	assert.Equal(t, int64(800000000+rippleEpochOffset), raw["timestamp"])
}

func TestTranslate_PaymentIssuedCurrency(t *testing.T) {
	l := testListener()

	msg := message(t, map[string]any{
		"TransactionType": "Payment",
		"Account":         "rSender",
		"Destination":     "rReceiver",
	}, map[string]any{"currency": "USD", "issuer": "rIssuer", "value": "25000000"})

	raw, ok := l.translate(msg)
	require.True(t, ok)
	assert.Equal(t, 25_000_000.0, raw["usd_value"], "stablecoin at par")
}

func TestTranslate_EscrowFinish(t *testing.T) {
	l := testListener()

	msg := message(t, map[string]any{
		"TransactionType": "EscrowFinish",
		"hash":            "DEF456",
		"Account":         "rOwner",
	}, nil)

	raw, ok := l.translate(msg)
	require.True(t, ok)
	assert.Equal(t, "payment", raw["kind"])
	assert.Equal(t, "escrow_finish", raw["sub_type"])
}

func TestTranslate_TrustSet(t *testing.T) {
	l := testListener()

	msg := message(t, map[string]any{
		"TransactionType": "TrustSet",
		"Account":         "rHolder",
		"LimitAmount": map[string]any{
			"currency": "RLUSD",
			"issuer":   "rIssuer",
			"value":    "1000000000000",
		},
	}, nil)

	raw, ok := l.translate(msg)
	require.True(t, ok)
	assert.Equal(t, "trustline", raw["kind"])
	assert.Equal(t, 1e12, raw["limit"])
	assert.Equal(t, "rIssuer", raw["issuer"])
}

func TestTranslate_OfferCreate(t *testing.T) {
	l := testListener()

	txRaw, err := json.Marshal(map[string]any{
		"TransactionType": "OfferCreate",
		"Account":         "rMaker",
		"TakerGets":       "1000000000", // 1000 XRP
	})
	require.NoError(t, err)
	msg := &streamMessage{Type: "transaction", Validated: true, Transaction: txRaw}

	raw, ok := l.translate(msg)
	require.True(t, ok)
	assert.Equal(t, "orderbook", raw["kind"])
	assert.Equal(t, 1000.0, raw["amount_xrp"])
}

func TestTranslate_SkipsUninteresting(t *testing.T) {
	l := testListener()

	// Unvalidated transactions are ignored.
	msg := message(t, map[string]any{"TransactionType": "Payment"}, nil)
	msg.Validated = false
	_, ok := l.translate(msg)
	assert.False(t, ok)

	// Non-transaction stream messages are ignored.
	msg = message(t, map[string]any{"TransactionType": "Payment"}, nil)
	msg.Type = "ledgerClosed"
	_, ok = l.translate(msg)
	assert.False(t, ok)

	// Transaction types outside the interest set are ignored.
	msg = message(t, map[string]any{"TransactionType": "AccountSet"}, nil)
	_, ok = l.translate(msg)
	assert.False(t, ok)
}

func TestNotional_MalformedAmounts(t *testing.T) {
	l := testListener()

	xrp, usd := l.notional(nil)
	assert.Zero(t, xrp)
	assert.Zero(t, usd)

	xrp, usd = l.notional(json.RawMessage(`"not a number"`))
	assert.Zero(t, xrp)
	assert.Zero(t, usd)
}
