package control

import "github.com/moat-inv/invctl/internal/govern"

// ToPhases splits a scalar inverter target np across N phases, compensating
// for per-phase load imbalance, then clamps to ±pPerPhase via the balancing
// utility, and finally subtracts each phase's locally wired critical load.
//
// Grounded on InvControl.to_phases in the original source. The per-phase
// split there, as in the worked 4-phase examples, adds (not subtracts) each
// phase's deviation from the average load — a phase carrying more than its
// share of local consumption gets more of the inverter's output assigned to
// it, not less.
func ToPhases(np float64, load []float64, pCrit []float64, pPerPhase float64) []float64 {
	n := len(load)
	if n == 0 {
		return nil
	}

	var avg float64
	for _, l := range load {
		avg += l
	}
	avg /= float64(n)

	ps := make([]float64, n)
	for i, l := range load {
		ps[i] = np/float64(n) + (l - avg)
	}

	min := make([]float64, n)
	max := make([]float64, n)
	for i := range min {
		min[i] = -pPerPhase
		max[i] = pPerPhase
	}
	ps = govern.Balance(ps, min, max)

	phases := make([]float64, n)
	for i := range phases {
		crit := 0.0
		if i < len(pCrit) {
			crit = pCrit[i]
		}
		phases[i] = ps[i] - crit
	}
	return phases
}
