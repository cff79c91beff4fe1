package govern

// BatteryCurrentAverage maintains a sliding window of the last four battery
// current samples (amps), updated roughly once per 1.1s by the caller.
type BatteryCurrentAverage struct {
	samples [4]float64
	count   int
	next    int
}

// Add records a new sample and returns the current average. The average is
// zero until four samples have arrived.
func (a *BatteryCurrentAverage) Add(iBatt float64) float64 {
	a.samples[a.next] = iBatt
	a.next = (a.next + 1) % len(a.samples)
	if a.count < len(a.samples) {
		a.count++
	}
	return a.Average()
}

// Average returns the current windowed average (0 until the window fills).
func (a *BatteryCurrentAverage) Average() float64 {
	if a.count < len(a.samples) {
		return 0
	}
	var sum float64
	for _, s := range a.samples {
		sum += s
	}
	return sum / float64(len(a.samples))
}

// PVMarginConfig holds the thresholds of the PV-max/margin estimator.
type PVMarginConfig struct {
	MaxThreshold  float64 // above this stored max, margin can self-tighten (default 1000A)
	InitialMargin float64 // default 0.4
}

// PVMaxMargin tracks a slowly decaying estimate of the recent maximum PV
// current, plus a margin factor that self-tightens when PV proves it can
// drop faster than the configured margin assumed.
//
// Grounded structurally on governor.RollingMinMax (a small bucketed/decaying
// tracker updated once per tick); the decay and self-tightening formulas
// themselves come from the reference averaging task, not from
// RollingMinMax's bucket algorithm.
type PVMaxMargin struct {
	Max    float64
	Margin float64
	init   bool
}

// NewPVMaxMargin creates a tracker with the configured initial margin.
func NewPVMaxMargin(cfg PVMarginConfig) *PVMaxMargin {
	return &PVMaxMargin{Margin: cfg.InitialMargin}
}

// Update folds in a new PV current sample and returns the updated (max,
// margin) pair.
func (p *PVMaxMargin) Update(iPV float64, cfg PVMarginConfig) (max, margin float64) {
	if !p.init {
		p.Max = iPV
		p.init = true
		return p.Max, p.Margin
	}

	switch {
	case iPV > p.Max:
		p.Max = iPV
	case p.Max > cfg.MaxThreshold && iPV < p.Max*p.Margin:
		p.Margin = iPV / p.Max
	default:
		p.Max += (iPV - p.Max) / 20
	}
	return p.Max, p.Margin
}
