package govern

import "math"

// DamperConfig holds the tunable parameters of the step damper.
type DamperConfig struct {
	FStep  float64 // fractional step exponent base (default 0.35)
	PStep  float64 // minimum step magnitude in watts (default 100)
	FDelta float64 // SoC band, symmetric around 0.5, where damping is bypassed (default 0.20)
}

// StepDamper converts a freshly decided scalar target into an actually
// emitted setpoint, limiting how far the output moves per cycle so that
// feedback through battery voltage and PV output doesn't oscillate.
//
// Grounded structurally on governor.SlowRampState: a small stateful
// smoother with an Update method, accelerating its response the longer a
// target has been sustained. The formula itself (a power-law fractional
// step keyed to a step counter, rather than a pressure accumulator) comes
// from the decide() pipeline's reference implementation.
type StepDamper struct {
	LastP     float64 // last emitted setpoint
	DestP     float64 // most recent damper target
	StepCount int
	hasLast   bool
}

// SmallStep reports whether p and q are close enough that the damper may
// snap directly to p instead of taking a fractional step. Symmetric in its
// arguments.
func SmallStep(p, q, pStep float64) bool {
	if math.Abs(p-q) < pStep {
		return true
	}
	if (p > 0) != (q > 0) {
		return false
	}
	ratio := (pStep + math.Abs(p)) / (pStep + math.Abs(q))
	return ratio > 10.0/12.0 && ratio < 12.0/10.0
}

// Update advances the damper toward p, given the current battery state of
// charge soc (a fraction in [0,1]), and returns the setpoint to emit.
func (d *StepDamper) Update(p, soc float64, cfg DamperConfig) float64 {
	if !d.hasLast {
		d.LastP = p
		d.DestP = p
		d.StepCount = 1
		d.hasLast = true
		return p
	}

	inDeltaBand := soc >= cfg.FDelta && soc <= 1-cfg.FDelta
	if inDeltaBand || SmallStep(p, d.LastP, cfg.PStep) {
		d.LastP = p
		d.DestP = p
		d.StepCount = 1
		return p
	}

	if SmallStep(p, d.DestP, cfg.PStep) {
		d.StepCount++
	} else {
		d.StepCount = 2
	}

	pd := (p - d.LastP) * math.Pow(cfg.FStep, 2.0/float64(d.StepCount))
	if math.Abs(pd) < cfg.PStep {
		pd = math.Copysign(cfg.PStep, pd)
	}

	np := d.LastP + pd
	d.LastP = np
	d.DestP = p
	return np
}
