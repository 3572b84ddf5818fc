// Package scheduler implements the recalculation scheduler (component C5):
// a periodic job that walks every experiment group, invokes the sampler
// when a group is eligible, and persists the resulting weights.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/exp/rand"

	"github.com/variantopt/weightopt/internal/counterstore"
	"github.com/variantopt/weightopt/internal/datafiles"
	"github.com/variantopt/weightopt/internal/sampler"
	"github.com/variantopt/weightopt/pkg/log"
)

// SkipReason records why a group was not touched this cycle.
type SkipReason struct {
	Datafile string
	Feature  string
	Reason   string
}

// CycleError records a group that errored while being processed; other
// groups in the same cycle are unaffected.
type CycleError struct {
	Datafile string
	Feature  string
	Err      string
}

// CycleSummary is what both the ticker and the manual /recalculate trigger
// return.
type CycleSummary struct {
	StartedAt       time.Time
	Considered      int
	Updated         int
	Skipped         []SkipReason
	Errored         []CycleError
	OrphanedGroups  []string // (datafile, feature) pairs with keys but no matching loaded datafile/feature
	Pruned          []string // datafile:feature:variant keys deleted this cycle (PruneOrphanAfter elapsed)
	AlreadyRunning  bool
	LockUnavailable bool
}

// Config carries the tunables a Scheduler needs beyond its store/repository
// collaborators.
type Config struct {
	UpdateInterval      time.Duration
	MinExposuresForUpdate uint64
	SamplerTrials       int

	// PruneOrphanAfter is how long a key must have been orphaned before a
	// cycle deletes it. Zero (the default) disables deletion entirely;
	// orphaned keys are still detected and reported every cycle, just
	// never removed.
	PruneOrphanAfter time.Duration
}

// Scheduler owns the single process-wide recalculation job. Concurrent
// cycles within one process are prevented by the busy flag; concurrent
// cycles across processes sharing the same store are prevented by the
// store's distributed lock.
type Scheduler struct {
	store counterstore.Store
	repo  *datafiles.Repository
	cfg   Config

	sched gocron.Scheduler
	busy  atomic.Bool

	// Seed produces the RNG source for each cycle. Overridden in tests for
	// determinism; production uses a time-seeded source by default.
	Seed func() rand.Source
}

func New(store counterstore.Store, repo *datafiles.Repository, cfg Config) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: creating gocron scheduler: %w", err)
	}
	return &Scheduler{
		store: store,
		repo:  repo,
		cfg:   cfg,
		sched: sched,
		Seed:  func() rand.Source { return rand.NewSource(uint64(time.Now().UnixNano())) },
	}, nil
}

// Start registers the periodic job and starts the underlying gocron
// scheduler. A tick that fires while a cycle is still running is coalesced
// (skipped) rather than queued.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.cfg.UpdateInterval),
		gocron.NewTask(func() {
			summary := s.RunCycle(ctx)
			if summary.AlreadyRunning {
				log.Debug("scheduler: tick coalesced, a cycle is already running")
				return
			}
			if summary.LockUnavailable {
				log.Debug("scheduler: tick skipped, could not acquire distributed lock")
				return
			}
			log.Infof("scheduler: cycle done - considered=%d updated=%d skipped=%d errored=%d",
				summary.Considered, summary.Updated, len(summary.Skipped), len(summary.Errored))
		}),
	)
	if err != nil {
		return fmt.Errorf("scheduler: registering job: %w", err)
	}
	s.sched.Start()
	return nil
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// RunCycle runs exactly one recalculation cycle, synchronously. It is safe
// to call directly (the manual /recalculate trigger does exactly this) and
// from the scheduled job; both paths share the same busy flag.
func (s *Scheduler) RunCycle(ctx context.Context) CycleSummary {
	summary := CycleSummary{StartedAt: time.Now()}

	if !s.busy.CompareAndSwap(false, true) {
		summary.AlreadyRunning = true
		return summary
	}
	defer s.busy.Store(false)

	lockTTL := s.cfg.UpdateInterval * 4
	token, ok, err := s.store.TryLock(ctx, lockTTL)
	if err != nil {
		log.Warnf("scheduler: lock acquisition error: %s", err)
		summary.LockUnavailable = true
		return summary
	}
	if !ok {
		summary.LockUnavailable = true
		return summary
	}
	defer func() {
		if err := s.store.Unlock(ctx, token); err != nil {
			log.Warnf("scheduler: failed to release lock: %s", err)
		}
	}()

	cycleTime := time.Now()
	groups, orphans, pruned, err := s.buildGroups(ctx, cycleTime)
	if err != nil {
		log.Warnf("scheduler: could not enumerate groups: %s", err)
		return summary
	}
	summary.OrphanedGroups = orphans
	summary.Pruned = pruned
	summary.Considered = len(groups)

	for _, g := range groups {
		if err := s.processGroup(ctx, g, cycleTime); err != nil {
			if reason, ok := err.(skipError); ok {
				summary.Skipped = append(summary.Skipped, SkipReason{
					Datafile: g.Datafile, Feature: g.Feature, Reason: string(reason),
				})
				continue
			}
			summary.Errored = append(summary.Errored, CycleError{
				Datafile: g.Datafile, Feature: g.Feature, Err: err.Error(),
			})
			continue
		}
		summary.Updated++
	}

	return summary
}

type skipError string

func (e skipError) Error() string { return string(e) }

// group is one (datafile, feature) experiment group together with its
// declared variant order and original weights, as read from the live
// datafile. The datafile is the authority on which variants make up the
// group: a variant that has never been exposed has no key in the counter
// store yet, but it must still count toward the MIN_EXPOSURES_FOR_UPDATE
// eligibility gate, so it's represented here with zero counters.
type group struct {
	Datafile string
	Feature  string
	Variants []sampler.VariantStats
}

// buildGroups enumerates groups from the currently loaded datafiles (the
// authoritative variant sets) and cross-references the counter store's own
// key scan to detect orphans: keys in the store that no longer correspond
// to any loaded datafile/feature. An orphan older than PruneOrphanAfter is
// deleted; a younger one, or one the store fails to mark/delete, is
// reported in the returned orphan list instead. A key that has reappeared
// in a loaded datafile has any stale orphan marker cleared.
func (s *Scheduler) buildGroups(ctx context.Context, now time.Time) ([]group, []string, []string, error) {
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listing counter keys: %w", err)
	}

	known := make(map[string]bool) // "datafile\x00feature" -> seen in a loaded datafile
	var groups []group

	for _, path := range s.repo.Paths() {
		df, err := s.repo.Get(path)
		if err != nil {
			continue
		}
		features, ok := datafiles.Features(df.Tree)
		if !ok {
			continue
		}
		for featureKey, raw := range features {
			feature, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			_, arr, ok := datafiles.VariantsArray(feature)
			if !ok || len(arr) == 0 {
				continue
			}

			known[path+"\x00"+featureKey] = true

			variants := make([]sampler.VariantStats, 0, len(arr))
			for _, v := range arr {
				value, ok := datafiles.VariantValue(v)
				if !ok {
					continue
				}
				weight, _ := datafiles.VariantWeight(v)
				k := counterstore.Key{Datafile: path, Feature: featureKey, Variant: value}
				counters, err := s.store.GetCounters(ctx, k)
				if err != nil {
					log.Warnf("scheduler: reading counters for %s/%s/%s: %s", path, featureKey, value, err)
					counters = counterstore.Counters{}
				}
				variants = append(variants, sampler.VariantStats{
					Variant:        value,
					Exposures:      counters.Exposures,
					Conversions:    counters.Conversions,
					OriginalWeight: weight,
				})
			}
			groups = append(groups, group{Datafile: path, Feature: featureKey, Variants: variants})
		}
	}

	orphanSet := make(map[string]bool)
	var pruned []string
	for _, k := range keys {
		id := k.Datafile + "\x00" + k.Feature
		if known[id] {
			if err := s.store.ClearOrphaned(ctx, k); err != nil {
				log.Warnf("scheduler: clearing orphan marker for %s/%s/%s: %s", k.Datafile, k.Feature, k.Variant, err)
			}
			continue
		}

		firstSeen, err := s.store.MarkOrphaned(ctx, k, now)
		if err != nil {
			log.Warnf("scheduler: marking orphan %s/%s/%s: %s", k.Datafile, k.Feature, k.Variant, err)
			orphanSet[id] = true
			continue
		}
		if s.cfg.PruneOrphanAfter > 0 && now.Sub(firstSeen) >= s.cfg.PruneOrphanAfter {
			if err := s.store.DeleteKey(ctx, k); err != nil {
				log.Warnf("scheduler: pruning orphan %s/%s/%s: %s", k.Datafile, k.Feature, k.Variant, err)
				orphanSet[id] = true
				continue
			}
			pruned = append(pruned, k.Datafile+":"+k.Feature+":"+k.Variant)
			continue
		}
		orphanSet[id] = true
	}

	orphans := make([]string, 0, len(orphanSet))
	for id := range orphanSet {
		orphans = append(orphans, id)
	}
	sort.Strings(orphans)
	sort.Strings(pruned)

	return groups, orphans, pruned, nil
}

func (s *Scheduler) processGroup(ctx context.Context, g group, cycleTime time.Time) error {
	for _, v := range g.Variants {
		if v.Exposures < s.cfg.MinExposuresForUpdate {
			return skipError("insufficient exposures")
		}
	}

	results, err := sampler.Sample(g.Variants, s.cfg.SamplerTrials, s.Seed())
	if err != nil {
		return skipError(err.Error())
	}

	var firstErr error
	for _, r := range results {
		k := counterstore.Key{Datafile: g.Datafile, Feature: g.Feature, Variant: r.Variant}
		if err := s.store.SetWeight(ctx, k, r.Weight, cycleTime); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("writing weight for %s: %w", r.Variant, err)
		}
	}
	return firstErr
}
