package registry

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/logging"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/store"
)

func testLogger() *slog.Logger { return logging.Discard() }

func TestRegistry_StaticMembership(t *testing.T) {
	r := New([]string{"rStaticA", "rStaticB"}, []int64{42}, nil, testLogger())

	assert.True(t, r.IsPartner("rStaticA"))
	assert.False(t, r.IsPartner("rUnknown"))
	assert.False(t, r.IsPartner(""))
	assert.True(t, r.IsVerifiedDestTag(42))
	assert.False(t, r.IsVerifiedDestTag(43))
}

func TestRegistry_RefreshMergesDynamicSet(t *testing.T) {
	mem := store.NewMemory()
	mem.SAdd(DynamicKey, "rDynamicA", "rDynamicB")

	r := New([]string{"rStaticA"}, nil, mem, testLogger())
	assert.False(t, r.IsPartner("rDynamicA"), "dynamic set not merged before refresh")

	require.NoError(t, r.Refresh(context.Background()))

	assert.True(t, r.IsPartner("rStaticA"), "static members survive refresh")
	assert.True(t, r.IsPartner("rDynamicA"))
	assert.True(t, r.IsPartner("rDynamicB"))
	assert.Equal(t, 3, r.PartnerCount())
}

type failingReader struct{}

func (failingReader) SMembers(ctx context.Context, key string) ([]string, error) {
	return nil, errors.New("store down")
}

func TestRegistry_FailedRefreshKeepsSnapshot(t *testing.T) {
	mem := store.NewMemory()
	mem.SAdd(DynamicKey, "rDynamicA")

	r := New([]string{"rStaticA"}, nil, mem, testLogger())
	require.NoError(t, r.Refresh(context.Background()))
	require.True(t, r.IsPartner("rDynamicA"))

	r.reader = failingReader{}
	assert.Error(t, r.Refresh(context.Background()))
	assert.True(t, r.IsPartner("rDynamicA"), "previous snapshot must survive a failed refresh")
}
