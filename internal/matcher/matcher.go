// Package matcher scores the similarity of two binary descriptor sets with
// cross-checked nearest-neighbour pairing under Hamming distance.
package matcher

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/example/biomatch/internal/vision"
)

const (
	// DefaultMinGoodMatches is the acceptance threshold on the good-match
	// count. Independent of the bucket-stage hash-distance threshold.
	DefaultMinGoodMatches = 20
	// GoodDistanceCutoff is the per-pair Hamming cutoff below which a pair
	// counts as good (out of a 0-256 range for 256-bit descriptors).
	GoodDistanceCutoff = 50
)

// ErrBadDescriptors reports a structurally invalid descriptor set: mismatched
// widths or data that disagrees with the declared shape.
var ErrBadDescriptors = errors.New("matcher: malformed descriptor set")

// MatchScore summarizes one probe/stored comparison. Every field is always
// populated; a comparison that finds nothing yields a zero-valued
// non-matching score with an infinite average distance, never an error.
type MatchScore struct {
	GoodMatches  int     `json:"good_matches"`
	TotalMatches int     `json:"total_matches"`
	AvgDistance  float64 `json:"avg_distance"`
	MatchRatio   float64 `json:"match_ratio"`
	IsMatch      bool    `json:"is_match"`
}

func noMatch() MatchScore {
	return MatchScore{AvgDistance: math.Inf(1)}
}

type pair struct {
	probe    int
	stored   int
	distance int
}

// Match compares a probe descriptor set against a stored one. minGood <= 0
// selects DefaultMinGoodMatches. Either side being empty is an expected
// outcome and returns a non-matching score; a probe whose element kind
// differs from the stored set is coerced, never rejected.
func Match(probe, stored *vision.DescriptorSet, minGood int) (MatchScore, error) {
	if minGood <= 0 {
		minGood = DefaultMinGoodMatches
	}
	if probe.Empty() || stored.Empty() {
		return noMatch(), nil
	}
	if err := checkShape(probe); err != nil {
		return noMatch(), err
	}
	if err := checkShape(stored); err != nil {
		return noMatch(), err
	}
	if probe.Width != stored.Width {
		return noMatch(), fmt.Errorf("%w: width %d vs %d", ErrBadDescriptors, probe.Width, stored.Width)
	}
	if probe.Kind != stored.Kind {
		probe = probe.Convert(stored.Kind)
	}

	pairs := crossCheck(probe, stored)
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].distance < pairs[j].distance
	})

	good, sum := 0, 0
	for _, p := range pairs {
		if p.distance < GoodDistanceCutoff {
			good++
			sum += p.distance
		}
	}
	if good == 0 {
		return noMatch(), nil
	}

	smaller := probe.Rows
	if stored.Rows < smaller {
		smaller = stored.Rows
	}
	return MatchScore{
		GoodMatches:  good,
		TotalMatches: len(pairs),
		AvgDistance:  float64(sum) / float64(good),
		MatchRatio:   float64(good) / float64(smaller),
		IsMatch:      good >= minGood,
	}, nil
}

func checkShape(set *vision.DescriptorSet) error {
	if set.Width <= 0 || len(set.Data) != set.Rows*set.Width {
		return fmt.Errorf("%w: data length %d inconsistent with shape [%d %d]",
			ErrBadDescriptors, len(set.Data), set.Rows, set.Width)
	}
	return nil
}

// crossCheck keeps only mutually-nearest pairs: a probe row paired with a
// stored row survives iff each is the other's nearest neighbour. Ties resolve
// to the lowest index in both directions, so the pairing is deterministic.
func crossCheck(probe, stored *vision.DescriptorSet) []pair {
	nearestStored := make([]int, probe.Rows)
	nearestStoredDist := make([]int, probe.Rows)
	nearestProbe := make([]int, stored.Rows)
	nearestProbeDist := make([]int, stored.Rows)
	for j := range nearestProbeDist {
		nearestProbeDist[j] = math.MaxInt
	}

	for i := 0; i < probe.Rows; i++ {
		row := probe.Row(i)
		bestJ, bestD := -1, math.MaxInt
		for j := 0; j < stored.Rows; j++ {
			d := hamming(row, stored.Row(j))
			if d < bestD {
				bestJ, bestD = j, d
			}
			if d < nearestProbeDist[j] {
				nearestProbe[j] = i
				nearestProbeDist[j] = d
			}
		}
		nearestStored[i] = bestJ
		nearestStoredDist[i] = bestD
	}

	var pairs []pair
	for i := 0; i < probe.Rows; i++ {
		j := nearestStored[i]
		if nearestProbe[j] == i {
			pairs = append(pairs, pair{probe: i, stored: j, distance: nearestStoredDist[i]})
		}
	}
	return pairs
}

func hamming(a, b []byte) int {
	d := 0
	for k := range a {
		d += bits.OnesCount8(a[k] ^ b[k])
	}
	return d
}
