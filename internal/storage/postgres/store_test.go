package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"mixerSync/internal/model"
)

// Runs against a live database only when MIXER_TEST_PG_DSN is set.
func TestStoreAppendLoadReset(t *testing.T) {
	dsn := os.Getenv("MIXER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MIXER_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureSchema(ctx))

	key := model.CacheKey{Network: "testRPC", Kind: model.KindDeposit, Currency: "eth", Amount: "0.1"}
	require.NoError(t, store.Reset(ctx, key))

	batch := []model.Event{
		{BlockNumber: 5, TransactionHash: "0xa", Commitment: "0x01", LeafIndex: 0, Timestamp: 100},
		{BlockNumber: 6, TransactionHash: "0xb", Commitment: "0x02", LeafIndex: 1, Timestamp: 101},
	}
	require.NoError(t, store.Append(ctx, key, batch))
	require.NoError(t, store.Append(ctx, key, batch))
	require.NoError(t, store.Append(ctx, key, []model.Event{model.NewSentinel(10)}))

	events, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, batch, events[:2])
	require.True(t, events[2].IsSentinel())

	require.NoError(t, store.Reset(ctx, key))
	events, err = store.Load(ctx, key)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestNewStoreRequiresDSN(t *testing.T) {
	_, err := NewStore(context.Background(), "")
	require.Error(t, err)
}
