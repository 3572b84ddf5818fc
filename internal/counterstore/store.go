// Package counterstore implements the durable exposure/conversion counter
// store (component C1): an atomically-incrementable mapping from
// (datafile, feature, variant) to running totals and the variant's current
// effective weight.
package counterstore

import (
	"context"
	"time"
)

// Counters is a snapshot of one (datafile, feature, variant) record. A key
// with no record yet (never exposed) reads back as a zero Counters rather
// than an error, since "not yet exposed" is an ordinary, expected state.
// Weight and LastUpdated are nil until the first recalculation writes them.
type Counters struct {
	Exposures   uint64
	Conversions uint64
	Weight      *float64
	LastUpdated *time.Time
}

// Key identifies one counter record. Variant is the datafile's declared
// variant `value` string.
type Key struct {
	Datafile string
	Feature  string
	Variant  string
}

// Store is the durable counter backend. Every method may block on network
// I/O; callers are expected to pass a context with a deadline for handler
// paths. Store errors on increment surface as 5xx with no retry.
type Store interface {
	IncrExposure(ctx context.Context, k Key) error
	IncrConversion(ctx context.Context, k Key) error
	GetCounters(ctx context.Context, k Key) (Counters, error)
	SetWeight(ctx context.Context, k Key, weight float64, at time.Time) error

	// ListKeys returns every stats key currently known to the store whose
	// datafile/feature/variant triple can be recovered with ParseKey. It
	// may return duplicates or miss keys created mid-scan; callers must
	// tolerate both.
	ListKeys(ctx context.Context) ([]Key, error)

	// MarkOrphaned records that k no longer corresponds to any loaded
	// datafile/feature and returns the time it was first observed as such.
	// The first call for a given k stores at and returns it; later calls
	// return the same value regardless of at, so callers can measure how
	// long a key has been orphaned across many cycles.
	MarkOrphaned(ctx context.Context, k Key, at time.Time) (time.Time, error)
	// ClearOrphaned removes any orphan marker set by MarkOrphaned. It is a
	// no-op if k was never marked.
	ClearOrphaned(ctx context.Context, k Key) error
	// DeleteKey removes k's record entirely, including its orphan marker.
	DeleteKey(ctx context.Context, k Key) error

	// TryLock acquires the process-wide recalculation lock for ttl,
	// returning ok=false (not an error) if another process already holds
	// it. Unlock is a no-op if the lock was never held or already expired.
	TryLock(ctx context.Context, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, token string) error

	Close() error
}
