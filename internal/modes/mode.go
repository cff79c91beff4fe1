// Package modes implements the controller's steady-state run modes: off,
// idle, p_grid, p_inv, i_batt, soc, remote and analyze. Each mode is a small
// state machine driven by the mode runner, talking back to the engine only
// through the Controller interface.
package modes

import "context"

// BMS is the subset of battery-management telemetry the analyze mode needs:
// per-cell voltage extremes, configured limits, cumulative work counters and
// the ability to program a freshly measured capacity/loss pair.
type BMS interface {
	CellVoltages(ctx context.Context) (min, max float64, err error)
	Limits(ctx context.Context) (Limits, error)
	Work(ctx context.Context, poll, clear bool) (chg, dis float64, err error)
	SetCapacity(ctx context.Context, dis, loss float64, top bool) error
}

// Limits mirrors the BMS's configured cell voltage window and balance delta.
type Limits struct {
	ULimMax      float64
	UExtMax      float64
	ULimMin      float64
	UExtMin      float64
	BalanceDelta float64
}

// Controller is everything a mode needs from the controller engine: the
// limit-calculator entry points, the write path, and the housekeeping calls
// (diagnostics, mode switching) modes use to cooperate with the runner.
//
// Grounded on the `intf` object every victron/inv/*.py mode receives:
// calc_grid_p/calc_inv_p/calc_batt_i, set_inv_ps (here SetInvPs), trigger,
// batt_soc/solar_p/p_cons, change_mode, set_state.
type Controller interface {
	CalcGridP(power float64, excessOK bool, excess float64) ([]float64, error)
	CalcInvP(power float64, excessOK bool, excess float64, phase int, usePhase bool) ([]float64, error)
	CalcBattI(current float64) ([]float64, error)

	SetInvPs(ctx context.Context, ps []float64) error
	SetBattI(ctx context.Context, i float64) error
	Trigger(ctx context.Context) error

	BattSoc() float64 // fraction [0,1]
	SolarP() float64
	PCons() float64
	NumPhases() int

	ChangeMode(ctx context.Context, name string, params map[string]float64) error
	SetState(step string, info map[string]any)
	SetTopOff(bool)

	BMS() BMS
}

// Mode is one steady-state control strategy. Run blocks until ctx is
// cancelled (mode switch or shutdown) or the mode completes on its own
// (analyze hands off to a follow-up mode when done).
type Mode interface {
	Name() string
	ParamDocs() map[string]string
	Run(ctx context.Context, c Controller, op map[string]float64, ready func()) error
}

// Constructor builds a fresh Mode instance for one run; modes keep no state
// across switches so a new value is built every time change_mode fires.
type Constructor func() Mode

var registry = map[string]Constructor{}

func register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Get looks up a mode constructor by name.
func Get(name string) (Constructor, bool) {
	c, ok := registry[name]
	return c, ok
}

// Names returns every registered mode name.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

func opGet(op map[string]float64, key string, def float64) float64 {
	if v, ok := op[key]; ok {
		return v
	}
	return def
}

func opBool(op map[string]float64, key string, def bool) bool {
	v, ok := op[key]
	if !ok {
		return def
	}
	return v != 0
}
