package reconcile

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/ticketchain/x402-tickets"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ""), mr
}

func entry(id string, createdAt int64) x402.OrphanedSettlement {
	return x402.OrphanedSettlement{
		ID:           id,
		EventAddress: "0xe1",
		Buyer:        "0xb0",
		Payer:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		Amount:       "2.5",
		Network:      "base-sepolia",
		SettlementTx: "0xsettle-" + id,
		Error:        "mint timed out",
		CreatedAt:    createdAt,
	}
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			store, _ := setupRedisStore(t)
			return store
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			list, err := store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			require.NoError(t, store.Record(ctx, entry("b", 200)))
			require.NoError(t, store.Record(ctx, entry("a", 100)))
			require.NoError(t, store.Record(ctx, entry("c", 300)))

			list, err = store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})
			assert.Equal(t, entry("a", 100), list[0])

			got, err := store.Get(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, "0xsettle-b", got.SettlementTx)

			resolved, err := store.Resolve(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, "0xsettle-b", resolved.SettlementTx)

			_, err = store.Get(ctx, "b")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.Resolve(ctx, "b")
			assert.ErrorIs(t, err, ErrNotFound)

			list, err = store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)
		})
	}
}

func TestRedisStoreKeys(t *testing.T) {
	store, mr := setupRedisStore(t)
	require.NoError(t, store.Record(context.Background(), entry("a", 100)))

	assert.True(t, mr.Exists("tickets:orphaned:a"))
	members, err := mr.ZMembers("tickets:orphaned:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)
}

func TestRedisStoreSkipsDanglingIndex(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, entry("a", 100)))
	require.NoError(t, store.Record(ctx, entry("b", 200)))
	mr.Del("tickets:orphaned:a")

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	err := store.Record(context.Background(), entry("a", 100))
	assert.ErrorContains(t, err, "redis record failed")
}
