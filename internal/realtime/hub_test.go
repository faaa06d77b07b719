package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/logging"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/stream"
)

func testHub() *Hub {
	return NewHub(logging.Discard())
}

func testSignal(kind signal.Kind, usd float64, tags ...string) *signal.Signal {
	return &signal.Signal{
		ID:        "payment:1700000000:1",
		Kind:      kind,
		Timestamp: 1700000000,
		Tags:      signal.NewTagSet(tags...),
		Numeric:   map[string]float64{"usd_value": usd},
	}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventSignal, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventPair},
	}}

	signalEvent := &Event{Type: EventSignal}
	pairEvent := &Event{Type: EventPair}

	if h.shouldSend(client, signalEvent) {
		t.Error("Should NOT receive signal events")
	}
	if !h.shouldSend(client, pairEvent) {
		t.Error("Should receive pair events")
	}
}

func TestShouldSend_KindFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Kinds: []string{"payment", "escrow"},
	}}

	matching := &Event{Type: EventSignal, Data: testSignal(signal.KindPayment, 0)}
	notMatching := &Event{Type: EventSignal, Data: testSignal(signal.KindOrderbook, 0)}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on kind")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other kinds")
	}
}

func TestShouldSend_TagFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Tags: []string{signal.TagSettlement},
	}}

	tagged := &Event{Type: EventSignal, Data: testSignal(signal.KindPayment, 0, signal.TagSettlement)}
	untagged := &Event{Type: EventSignal, Data: testSignal(signal.KindPayment, 0, signal.TagPartner)}

	if !h.shouldSend(client, tagged) {
		t.Error("Should match on tag")
	}
	if h.shouldSend(client, untagged) {
		t.Error("Should NOT match signal missing the tag")
	}
}

func TestShouldSend_MinUSDFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinUSD: 10_000_000,
	}}

	large := &Event{Type: EventSignal, Data: testSignal(signal.KindPayment, 15_000_000)}
	small := &Event{Type: EventSignal, Data: testSignal(signal.KindPayment, 5_000_000)}
	pair := &Event{Type: EventPair, Data: &stream.Pair{ID: "p"}}

	if !h.shouldSend(client, large) {
		t.Error("Should receive large signal")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small signal")
	}
	if !h.shouldSend(client, pair) {
		t.Error("MinUSD filter should only apply to signal events")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventSignal, Data: testSignal(signal.KindPayment, 0)}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonSignalData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Kinds: []string{"payment"},
	}}

	// Event with non-signal data should not crash
	event := &Event{
		Type: EventPair,
		Data: "string data not a signal",
	}

	// Kind filter skips non-signal data, so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-signal data should pass through when kind filter can't apply")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventSignal, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastSignal(testSignal(signal.KindPayment, 12_000_000, signal.TagSettlement))

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastPair(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Should not panic
	h.BroadcastPair(&stream.Pair{
		ID:          "pair-1",
		Correlation: 0.8,
		Chain:       testSignal(signal.KindPayment, 12_000_000),
		Market:      testSignal(signal.KindDarkPoolPrint, 0),
	})
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants pairs
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventPair}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a signal event (should be filtered out)
	h.Broadcast(&Event{Type: EventSignal, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive signal event")
	default:
		// Good - filtered out
	}

	// Send a pair event (should be received)
	h.Broadcast(&Event{Type: EventPair, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive pair event")
	}
}
