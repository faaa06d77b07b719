package pattern

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/logging"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/store"
)

const baseTS int64 = 1_700_000_000

func newTracker() (*Tracker, *store.MemoryStore) {
	mem := store.NewMemory()
	return New(mem, DefaultConfig(), logging.Discard()), mem
}

func settlementSignal(i int, ts int64) *signal.Signal {
	return &signal.Signal{
		ID:        fmt.Sprintf("payment:%d:%d", ts, i),
		Kind:      signal.KindPayment,
		Timestamp: ts,
		Tags:      signal.NewTagSet(signal.TagSettlement),
	}
}

func TestDetectPatterns_IrrelevantKindIsNoOp(t *testing.T) {
	tr, _ := newTracker()

	s := &signal.Signal{
		ID:        "orderbook:1:1",
		Kind:      signal.KindOrderbook,
		Timestamp: baseTS,
		Tags:      signal.NewTagSet(),
	}
	out := tr.DetectPatterns(context.Background(), s)
	assert.Nil(t, out.Pattern)
	assert.Equal(t, 0, out.Tags.Len())
}

func TestDetectPatterns_ClusterAtThree(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	var last *signal.Signal
	for i := 0; i < 3; i++ {
		last = tr.DetectPatterns(ctx, settlementSignal(i, baseTS+int64(i*10)))
	}

	assert.True(t, last.Tags.Has(signal.TagCluster))
	assert.False(t, last.Tags.Has(signal.TagBatch))
	require.NotNil(t, last.Pattern)
	assert.Equal(t, 3, last.Pattern.ClusterSize)
	assert.Contains(t, last.Pattern.Types, "settlement")
}

func TestDetectPatterns_BatchNeedsFiveWithinSpan(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	// Five settlements inside 40 seconds.
	var last *signal.Signal
	for i := 0; i < 5; i++ {
		last = tr.DetectPatterns(ctx, settlementSignal(i, baseTS+int64(i*10)))
	}
	assert.True(t, last.Tags.Has(signal.TagCluster))
	assert.True(t, last.Tags.Has(signal.TagBatch))
	assert.Equal(t, 5, last.Pattern.ClusterSize)
}

func TestDetectPatterns_FiveSpreadTooWideIsNotBatch(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	// Five settlements spanning 200 seconds: cluster yes, batch no.
	var last *signal.Signal
	for i := 0; i < 5; i++ {
		last = tr.DetectPatterns(ctx, settlementSignal(i, baseTS+int64(i*50)))
	}
	assert.True(t, last.Tags.Has(signal.TagCluster))
	assert.False(t, last.Tags.Has(signal.TagBatch))
}

func TestDetectPatterns_WindowEviction(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tr.DetectPatterns(ctx, settlementSignal(i, baseTS+int64(i*10)))
	}

	// Ten minutes later the 300s window has fully rolled over.
	late := tr.DetectPatterns(ctx, settlementSignal(99, baseTS+600))
	assert.False(t, late.Tags.Has(signal.TagCluster), "expired members must not count")
	require.NotNil(t, late.Pattern)
	assert.Equal(t, 1, late.Pattern.ClusterSize, "fresh window starts at one")
}

func TestDetectPatterns_CrossChainFromPrepWindow(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	prep := &signal.Signal{
		ID:        "payment:prep:1",
		Kind:      signal.KindPayment,
		SubType:   "cross_chain_prep",
		Timestamp: baseTS,
		Tags:      signal.NewTagSet(),
	}
	out := tr.DetectPatterns(ctx, prep)
	assert.Contains(t, out.Pattern.Types, "prep")

	settled := tr.DetectPatterns(ctx, settlementSignal(1, baseTS+120))
	assert.True(t, settled.Tags.Has(signal.TagCrossChain))

	// Past the 1800s prep horizon the correlation is gone.
	lateSettled := tr.DetectPatterns(ctx, settlementSignal(2, baseTS+2000))
	assert.False(t, lateSettled.Tags.Has(signal.TagCrossChain))
}

func TestDetectPatterns_EquityRotation(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	print := &signal.Signal{
		ID:        "dark_pool_print:1:1",
		Kind:      signal.KindDarkPoolPrint,
		Timestamp: baseTS,
		Tags:      signal.NewTagSet(),
	}
	tr.DetectPatterns(ctx, print)

	settled := tr.DetectPatterns(ctx, settlementSignal(1, baseTS+300))
	assert.True(t, settled.Tags.Has(signal.TagEquityRotation))

	lateSettled := tr.DetectPatterns(ctx, settlementSignal(2, baseTS+1000))
	assert.False(t, lateSettled.Tags.Has(signal.TagEquityRotation), "600s horizon expired")
}

func TestDetectPatterns_PartnerOnlyGoesToGenericWindow(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	s := &signal.Signal{
		ID:        "payment:1:1",
		Kind:      signal.KindPayment,
		Timestamp: baseTS,
		Tags:      signal.NewTagSet(signal.TagPartner),
	}
	out := tr.DetectPatterns(ctx, s)
	require.NotNil(t, out.Pattern)
	assert.Equal(t, []string{"generic"}, out.Pattern.Types)
}

type brokenStore struct {
	*store.MemoryStore
}

func (b brokenStore) ZAdd(ctx context.Context, key string, member store.ZMember) error {
	return fmt.Errorf("window store down")
}

func TestDetectPatterns_StoreErrorPassesSignalThrough(t *testing.T) {
	tr := New(brokenStore{store.NewMemory()}, DefaultConfig(), logging.Discard())

	s := settlementSignal(1, baseTS)
	before := s.Tags.AsSlice()
	out := tr.DetectPatterns(context.Background(), s)

	assert.Equal(t, before, out.Tags.AsSlice(), "storage failure must not change tags")
	assert.Nil(t, out.Pattern)
}
