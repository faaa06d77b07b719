package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/logging"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/testutil"
)

func archivedSignal(id string, ts int64) *signal.Signal {
	return &signal.Signal{
		ID:        id,
		Kind:      signal.KindPayment,
		SubType:   "escrow_finish",
		Timestamp: ts,
		Summary:   "escrow release observed",
		Tags:      signal.NewTagSet(signal.TagPartner, signal.TagSettlement),
		Numeric:   map[string]float64{"usd_value": 12_000_000},
		Addresses: signal.Addresses{Source: "rPartner", Destination: "rDest"},
		ExecutionScore: 0.4213,
		Impact: &signal.Impact{
			State:          "EscrowUnlock",
			Confidence:     0.55,
			Direction:      signal.DirectionMonitor,
			HorizonMinutes: 240,
		},
		Pattern: &signal.PatternMeta{Types: []string{"settlement"}, ClusterSize: 3},
	}
}

func TestArchive_InsertAndRecent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewStore(db, logging.Discard())
	ctx := context.Background()

	require.NoError(t, s.insert(ctx, archivedSignal("payment:1:1", 1_700_000_000)))
	require.NoError(t, s.insert(ctx, archivedSignal("payment:1:2", 1_700_000_100)))

	// Re-inserting the same id is a no-op, not an error.
	require.NoError(t, s.insert(ctx, archivedSignal("payment:1:1", 1_700_000_000)))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, "payment:1:2", got[0].ID)

	first := got[1]
	assert.Equal(t, signal.KindPayment, first.Kind)
	assert.Equal(t, "escrow_finish", first.SubType)
	assert.True(t, first.Tags.Has(signal.TagSettlement))
	assert.Equal(t, 12_000_000.0, first.Numeric["usd_value"])
	assert.Equal(t, 0.4213, first.ExecutionScore)
	require.NotNil(t, first.Impact)
	assert.Equal(t, "EscrowUnlock", first.Impact.State)
	require.NotNil(t, first.Pattern)
	assert.Equal(t, 3, first.Pattern.ClusterSize)

	s.Close()
}

func TestArchive_QueueDrainsOnClose(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewStore(db, logging.Discard())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Archive(ctx, archivedSignal(
			"payment:queue:"+string(rune('a'+i)), 1_700_000_000+int64(i)))
	}
	s.Close() // waits for the worker to finish the queue

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestArchive_NullOptionalColumns(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewStore(db, logging.Discard())
	defer s.Close()
	ctx := context.Background()

	bare := &signal.Signal{
		ID:        "orderbook:1:1",
		Kind:      signal.KindOrderbook,
		Timestamp: 1_700_000_000,
		Tags:      signal.NewTagSet(),
	}
	require.NoError(t, s.insert(ctx, bare))

	got, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Impact)
	assert.Nil(t, got[0].Pattern)
	assert.Equal(t, 0, got[0].Tags.Len())
}
