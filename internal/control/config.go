// Package control implements the closed-loop decision pipeline: the limit
// calculator, phase distribution, overload redistribution, and the mode
// runner that drives them.
package control

// Config holds the controller's immutable configuration (spec §6's
// configuration table). Units match the telemetry they're compared
// against: currents in amps, voltages in volts, powers in watts.
type Config struct {
	FStep  float64 // damper fractional step (default 0.35)
	PStep  float64 // damper minimum step, watts (default 100)
	FDelta float64 // SoC margin where damping kicks in (default 0.20)
	TopOff bool    // allow charging to the BMS absolute ceiling (default false)

	UMaxDiff float64 // voltage headroom for charge taper, volts (default 0.5)
	UMinDiff float64 // voltage headroom for discharge taper, volts (default 0.5)

	PGMin float64 // grid import limit, watts, negative = export (default -1100)
	PGMax float64 // grid export limit, watts (default 1100)

	InvEff     float64 // inverter nominal efficiency (default 0.9)
	PPerPhase  float64 // per-phase inverter maximum, watts
	PVMargin   float64 // initial PV drop factor (default 0.4)
	PVDelta    float64 // PV headroom, amps (default 30)
	CapScale   float64 // battery capacity taper factor (default 4)
	RInt       float64 // battery internal resistance, ohms (default 0.01)
	PVMaxLevel float64 // threshold above which the PV margin self-tightens, amps (default 1000)

	NumPhases int

	ModesDefault string             // mode selected at startup
	ModeDefaults map[string]map[string]float64

	OpFake bool // log-only mode; never writes to the inverter

	Name string // suffix used when registering the bus name
}

// DefaultConfig returns the documented defaults from spec §6.
func DefaultConfig() Config {
	return Config{
		FStep:      0.35,
		PStep:      100,
		FDelta:     0.20,
		TopOff:     false,
		UMaxDiff:   0.5,
		UMinDiff:   0.5,
		PGMin:      -1100,
		PGMax:      1100,
		InvEff:     0.9,
		PPerPhase:  4500,
		PVMargin:   0.4,
		PVDelta:    30,
		CapScale:   4,
		RInt:       0.01,
		PVMaxLevel: 1000,
		NumPhases:  1,
	}
}
