package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestCachedItemIsInvalidatedOnMutation(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := newMemoryRepo("PCS", "DUS", "PAK")
	svc := NewService(repo, NewCache(rdb, time.Minute), nil, nil)
	item := createIndomie(t, svc)
	ctx := context.Background()

	_, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	_, err = svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 1, repo.loads)
	require.True(t, mr.Exists(itemKey(item.ID)))

	_, err = svc.AddVariant(ctx, 1, item.ID, VariantDraft{Code: "PAK", UnitCode: "PAK", ConversionAmount: 5})
	require.NoError(t, err)
	require.False(t, mr.Exists(itemKey(item.ID)))

	got, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, got.Variants, 3)
	require.Equal(t, 2, repo.loads)
}

func TestCacheFallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	cache := NewCache(rdb, time.Minute)
	item, err := cache.Item(context.Background(), 3, func(context.Context) (Item, error) {
		return Item{ID: 3, Name: "Teh Botol"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "Teh Botol", item.Name)
}
