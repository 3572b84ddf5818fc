// Package sampler implements the Thompson-Sampling math (component C4):
// turning per-variant exposure/conversion counts into posterior-probability
// estimates of being the best variant, and deriving new weights from them.
package sampler

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultTrials is the number of joint posterior draws used to estimate
// each variant's probability of being best.
const DefaultTrials = 10000

// ErrZeroWeightSum is returned when a group's on-disk weights sum to zero,
// which would make weight derivation (round(S·P(best), 4)) degenerate. The
// caller (the scheduler) records this as a skipped-group warning rather
// than treating it as a cycle-aborting error.
var ErrZeroWeightSum = errors.New("sampler: group's original weights sum to zero")

// VariantStats is the sampler's view of one variant: its raw counters and
// its current on-disk weight (used only to derive S, the target sum).
type VariantStats struct {
	Variant        string
	Exposures      uint64
	Conversions    uint64
	OriginalWeight float64
}

// Result is the sampler's output for one variant, in the same order as the
// input slice.
type Result struct {
	Variant string
	PBest   float64
	Weight  float64
}

// Sample runs Thompson Sampling over the posterior Beta distributions of
// every variant in stats and returns new weights that sum to the group's
// original weight total. src seeds every draw; callers that need
// determinism (tests) pass a fixed-seed source.
func Sample(stats []VariantStats, trials int, src rand.Source) ([]Result, error) {
	if trials <= 0 {
		trials = DefaultTrials
	}

	originalSum := 0.0
	for _, s := range stats {
		originalSum += s.OriginalWeight
	}
	if originalSum <= 0 {
		return nil, ErrZeroWeightSum
	}

	posteriors := make([]distuv.Beta, len(stats))
	for i, s := range stats {
		c := s.Conversions
		if c > s.Exposures {
			c = s.Exposures // clamp for sampling purposes only; stored counters are never touched
		}
		posteriors[i] = distuv.Beta{
			Alpha: 1 + float64(c),
			Beta:  1 + float64(s.Exposures-c),
			Src:   src,
		}
	}

	wins := make([]int, len(stats))
	draw := make([]float64, len(stats))
	for t := 0; t < trials; t++ {
		bestIdx := 0
		for i := range posteriors {
			draw[i] = posteriors[i].Rand()
			if draw[i] > draw[bestIdx] {
				bestIdx = i
			}
		}
		wins[bestIdx]++
	}

	results := make([]Result, len(stats))
	sumWeights := 0.0
	topIdx := 0
	for i, s := range stats {
		pBest := float64(wins[i]) / float64(trials)
		weight := round4(originalSum * pBest)
		results[i] = Result{Variant: s.Variant, PBest: pBest, Weight: weight}
		sumWeights += weight
		if wins[i] > wins[topIdx] {
			topIdx = i
		}
	}

	// Residual correction so the group sum matches originalSum exactly,
	// avoiding drift across many recalculation cycles.
	residual := round4(originalSum - sumWeights)
	results[topIdx].Weight = round4(results[topIdx].Weight + residual)

	return results, nil
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

// Validate is a convenience guard callers can run before Sample to produce
// a clearer error than a degenerate posterior would.
func Validate(stats []VariantStats) error {
	if len(stats) == 0 {
		return fmt.Errorf("sampler: group has no variants")
	}
	return nil
}
