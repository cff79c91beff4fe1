package control

import (
	"math"
	"sort"
)

const overloadFudge = 50.0
const overloadDetectMargin = 20.0
const overloadReleaseMargin = 10.0

// OverloadTracker detects, per phase, whether the inverter failed to reach
// its previously requested setpoint (saturation), and redistributes the
// shortfall onto phases that still have headroom.
//
// Grounded directly on InvModeBase.set_inv_ps in the original source; the
// accumulation and redistribution here follow the source's two-pass shape
// (detect-then-spread) while dropping a handful of source-only secondary
// checks that don't appear in the restated rule and would only matter on
// repeated consecutive saturation within the same cycle.
type OverloadTracker struct {
	psMin []float64 // recorded out-feed saturation level per phase, -Inf = unknown
	psMax []float64 // recorded in-feed saturation level per phase, +Inf = unknown
}

// NewOverloadTracker creates a tracker for n phases with all limits unknown.
func NewOverloadTracker(n int) *OverloadTracker {
	min := make([]float64, n)
	max := make([]float64, n)
	for i := range min {
		min[i] = math.Inf(-1)
		max[i] = math.Inf(1)
	}
	return &OverloadTracker{psMin: min, psMax: max}
}

// Adjust compares the previously requested setpoints pSet against what
// telemetry now reports the inverters actually achieved, pRun, and returns
// ps (this cycle's fresh per-phase target) corrected for any detected
// saturation.
func (o *OverloadTracker) Adjust(ps, pSet, pRun []float64) []float64 {
	n := len(ps)
	if n != len(o.psMin) {
		*o = *NewOverloadTracker(n)
	}

	var pdMin, pdMax float64
	for i := 0; i < n; i++ {
		switch {
		case pSet[i] < 0:
			if pSet[i] < pRun[i]-overloadDetectMargin {
				o.psMin[i] = pRun[i]
				if ps[i] < o.psMin[i] {
					pdMin += o.psMin[i] - ps[i] - overloadFudge
				}
			} else if !math.IsInf(o.psMin[i], -1) && o.psMin[i] >= pRun[i]-overloadReleaseMargin {
				o.psMin[i] = math.Inf(-1)
			}
		case pSet[i] > 0:
			if pSet[i] > pRun[i]+overloadDetectMargin {
				o.psMax[i] = pRun[i]
				if ps[i] > o.psMax[i] {
					pdMax += ps[i] - o.psMax[i] + overloadFudge
				}
			} else if !math.IsInf(o.psMax[i], 1) && o.psMax[i] <= pRun[i]-overloadReleaseMargin {
				o.psMax[i] = math.Inf(1)
			}
		}
	}

	out := append([]float64(nil), ps...)
	if pdMin > 0 {
		out = spreadShortfall(out, o.psMin, true)
	}
	if pdMax > 0 {
		out = spreadShortfall(out, o.psMax, false)
	}
	return out
}

// spreadShortfall distributes the gap between each saturated phase's
// recorded limit and its current target across the remaining phases, in
// worst-hit-first order, each receiving an equal share of what remains. The
// deficit is accumulated here from the saturated phases themselves (d starts
// at zero) rather than reusing the caller's already-fudged gate value, so a
// phase's shortfall is counted exactly once. The overloadFudge margin is
// applied to every phase the function actually writes — clamped phases via
// their recorded limit, and phases that receive a distributed share — so the
// next pass can tell whether the limit still holds.
func spreadShortfall(ps, limit []float64, isMin bool) []float64 {
	n := len(ps)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	key := func(i int) float64 {
		if isMin {
			return -ps[i] + limit[i]
		}
		return ps[i] - limit[i]
	}
	sort.Slice(order, func(a, b int) bool { return key(order[a]) < key(order[b]) })

	out := append([]float64(nil), ps...)
	var d float64
	left := n
	for k := n - 1; k >= 0; k-- {
		i := order[k]
		left--
		v := out[i]
		lim := limit[i]
		if isMin {
			if v < lim {
				d += lim - v
				v = lim - overloadFudge
			} else {
				share := d / float64(left+1)
				if v-share < lim {
					// taking its full share would push it past the limit:
					// clamp instead, fudged so the next pass can re-detect it.
					d -= v - lim
					v = lim - overloadFudge
				} else {
					d -= share
					v -= share + overloadFudge
				}
			}
		} else {
			if v > lim {
				d += v - lim
				v = lim + overloadFudge
			} else {
				share := d / float64(left+1)
				if v+share > lim {
					d -= lim - v
					v = lim + overloadFudge
				} else {
					d -= share
					v += share + overloadFudge
				}
			}
		}
		out[i] = v
	}
	return out
}
