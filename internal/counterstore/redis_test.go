package counterstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb)
}

func TestIncrExposureCreatesRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := Key{Datafile: "d", Feature: "f", Variant: "A"}

	require.NoError(t, store.IncrExposure(ctx, k))
	require.NoError(t, store.IncrExposure(ctx, k))
	require.NoError(t, store.IncrConversion(ctx, k))

	c, err := store.GetCounters(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.Exposures)
	assert.Equal(t, uint64(1), c.Conversions)
	assert.Nil(t, c.Weight)
	assert.Nil(t, c.LastUpdated)
}

func TestGetCountersMissingKeyIsZeroNotError(t *testing.T) {
	store := newTestStore(t)
	c, err := store.GetCounters(context.Background(), Key{Datafile: "d", Feature: "f", Variant: "B"})
	require.NoError(t, err)
	assert.Equal(t, Counters{}, c)
}

func TestSetWeightLeavesCountsUntouched(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := Key{Datafile: "d", Feature: "f", Variant: "A"}

	require.NoError(t, store.IncrExposure(ctx, k))
	require.NoError(t, store.IncrExposure(ctx, k))

	ts := time.Unix(1700000000, 0).UTC()
	require.NoError(t, store.SetWeight(ctx, k, 42.5, ts))

	c, err := store.GetCounters(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.Exposures)
	require.NotNil(t, c.Weight)
	assert.InDelta(t, 42.5, *c.Weight, 1e-9)
	require.NotNil(t, c.LastUpdated)
	assert.Equal(t, ts, *c.LastUpdated)
}

func TestConversionsCanExceedExposures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := Key{Datafile: "d", Feature: "f", Variant: "A"}

	require.NoError(t, store.IncrConversion(ctx, k))

	c, err := store.GetCounters(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Exposures)
	assert.Equal(t, uint64(1), c.Conversions)
}

func TestListKeysReturnsOnlyStatsKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrExposure(ctx, Key{Datafile: "d1", Feature: "f1", Variant: "A"}))
	require.NoError(t, store.IncrExposure(ctx, Key{Datafile: "d1", Feature: "f1", Variant: "B"}))
	require.NoError(t, store.IncrExposure(ctx, Key{Datafile: "d2", Feature: "f2", Variant: "A"}))

	_, ok, err := store.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestConcurrentIncrementsAreLinearized(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := Key{Datafile: "d", Feature: "f", Variant: "A"}

	const n = 50
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			_ = store.IncrExposure(ctx, k)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	c, err := store.GetCounters(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), c.Exposures)
}

func TestMarkOrphanedIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := Key{Datafile: "d", Feature: "f", Variant: "A"}

	first := time.Unix(1700000000, 0).UTC()
	seen, err := store.MarkOrphaned(ctx, k, first)
	require.NoError(t, err)
	assert.Equal(t, first, seen)

	later := first.Add(time.Hour)
	seen, err = store.MarkOrphaned(ctx, k, later)
	require.NoError(t, err)
	assert.Equal(t, first, seen, "a later call must not overwrite the first-seen time")
}

func TestClearOrphanedRemovesMarker(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := Key{Datafile: "d", Feature: "f", Variant: "A"}

	_, err := store.MarkOrphaned(ctx, k, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.ClearOrphaned(ctx, k))

	seen, err := store.MarkOrphaned(ctx, k, time.Unix(1800000000, 0).UTC())
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1800000000, 0).UTC(), seen, "clearing the marker lets a later MarkOrphaned set a fresh first-seen time")
}

func TestDeleteKeyRemovesTheWholeRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := Key{Datafile: "d", Feature: "f", Variant: "A"}

	require.NoError(t, store.IncrExposure(ctx, k))
	require.NoError(t, store.SetWeight(ctx, k, 10, time.Now()))
	require.NoError(t, store.DeleteKey(ctx, k))

	c, err := store.GetCounters(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, Counters{}, c)

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestTryLockIsExclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token, ok, err := store.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := store.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2)

	require.NoError(t, store.Unlock(ctx, token))

	_, ok3, err := store.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok3)
}
