// Package govern provides the smoothing, averaging and redistribution
// primitives used to turn a single scalar power target into a stable,
// per-phase setpoint vector.
package govern

import "sort"

// Balance redistributes the entries of a so that, when both positive and
// negative values are present, the smaller-magnitude side is absorbed into
// the larger side proportionally (largest entries give up the most). If min
// or max is non-nil it is then applied per-entry, with any clamp overflow
// redistributed the same way among the remaining entries.
//
// Balance preserves sum(a) when no clamp is active, and is idempotent:
// Balance(Balance(a, min, max), min, max) == Balance(a, min, max).
func Balance(a []float64, min, max []float64) []float64 {
	if len(a) == 0 {
		return nil
	}

	var negSum, posSum float64
	for _, v := range a {
		if v < 0 {
			negSum -= v
		} else {
			posSum += v
		}
	}

	rev := negSum > posSum
	work := make([]float64, len(a))
	var drain float64
	if rev {
		for i, v := range a {
			work[i] = -v
		}
		drain = posSum
	} else {
		copy(work, a)
		drain = negSum
	}

	order := make([]int, len(work))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return work[order[i]] > work[order[j]] })

	absorbed := make([]float64, len(work))
	if work[order[len(order)-1]] >= 0 {
		// Nothing to absorb; nothing below zero.
		for _, i := range order {
			absorbed[i] = work[i]
		}
	} else {
		remaining := append([]int(nil), order...)
		for len(remaining) > 0 {
			i := remaining[len(remaining)-1]
			remaining = remaining[:len(remaining)-1]
			v := work[i]
			if v <= 0 {
				absorbed[i] = 0
				continue
			}
			share := drain / float64(len(remaining)+1)
			if share >= v {
				drain -= v
				absorbed[i] = 0
				continue
			}
			absorbed[i] = v - share
			drain -= share
		}
	}

	var clamp []float64
	if rev {
		clamp = min
	} else {
		clamp = max
	}
	if clamp == nil {
		if rev {
			out := make([]float64, len(absorbed))
			for i, v := range absorbed {
				out[i] = -v
			}
			return out
		}
		return absorbed
	}

	// Clamp overflow flows from the largest entry down to the smallest,
	// same order the values were sorted into (mirrors the reference
	// balance() routine's two-pass redistribution).
	result := make([]float64, len(absorbed))
	left := len(order)
	var overflow float64
	for _, i := range order {
		left--
		share := overflow / float64(left+1)
		v := absorbed[i]
		limit := clamp[i]
		if rev {
			limit = -limit
		}
		if v+share > limit {
			overflow += v - limit
			result[i] = limit
			continue
		}
		result[i] = v + share
		overflow -= share
	}

	if rev {
		for i, v := range result {
			result[i] = -v
		}
	}
	return result
}
