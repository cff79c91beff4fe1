package control

// Telemetry is a read-only snapshot of the signals the limit calculator and
// phase distributor need for one decision cycle. It is assembled by the
// caller (the mode runner) from the signal cache each time a mode asks for
// a new setpoint.
type Telemetry struct {
	UDC      float64
	IPV      float64
	IPVMax   float64
	BCap     float64
	UMax     float64
	UMin     float64
	IBMin    float64
	IBMax    float64
	BattSoc  float64 // fraction [0,1]
	SolarP   float64
	PCons    float64
	Load     []float64 // per-phase local consumption, for to_phases
	PCrit    []float64 // per-phase critical load to subtract
	NPhase   int
	TopOff   bool
	Fake     bool // when true, SetInvPs is a no-op (dry run)
	Running  bool // whether a prior setpoint has actually been emitted
}

// Engine turns a scalar power or current target into a per-phase setpoint
// vector, applying the full R1-R8 limit calculator, the step damper and the
// phase distributor in that order. The overload redistributor is a separate
// step (Adjust), which the mode runner applies when it writes the setpoints.
//
// Grounded on InvControl in the original source: calc_inv_p/calc_grid_p/
// calc_batt_i feed into set_inv_ps, which here is the Decide -> StepDamper
// -> ToPhases pipeline below followed by Adjust's OverloadTracker pass.
type Engine struct {
	Cfg      Config
	Damper   StepDamperFunc
	Overload *OverloadTracker

	lastPs []float64
	lastP  float64
	runs   bool
}

// StepDamperFunc abstracts the scalar damping step so Engine doesn't need to
// import govern directly (it is wired by the caller, which already owns a
// *govern.StepDamper instance shared across decision cycles).
type StepDamperFunc func(p, soc float64) float64

// NewEngine builds an Engine for a fixed phase count.
func NewEngine(cfg Config, damper StepDamperFunc) *Engine {
	return &Engine{
		Cfg:      cfg,
		Damper:   damper,
		Overload: NewOverloadTracker(cfg.NumPhases),
	}
}

func (e *Engine) inputs(t Telemetry) Inputs {
	return Inputs{
		Cfg:    e.Cfg,
		UDC:    t.UDC,
		IPV:    t.IPV,
		IPVMax: t.IPVMax,
		BCap:   t.BCap,
		UMax:   t.UMax,
		UMin:   t.UMin,
		IBMin:  t.IBMin,
		IBMax:  t.IBMax,
	}
}

// decideAndSpread runs the common tail of every calc_* entry point: decide
// the scalar target, damp it and split it across phases. Overload
// correction is not applied here; see Adjust.
func (e *Engine) decideAndSpread(t Telemetry, p float64, excessOK bool, excess float64) ([]float64, Diagnostics) {
	in := e.inputs(t)
	in.Cfg.TopOff = t.TopOff
	dp, diag := Decide(in, p, excessOK, excess)

	np := dp
	if e.Damper != nil {
		np = e.Damper(dp, t.BattSoc)
	}

	ps := ToPhases(np, t.Load, t.PCrit, e.Cfg.PPerPhase)

	e.lastPs = ps
	e.lastP = np
	e.runs = true
	return ps, diag
}

// CalcInvP mirrors InvControl.calc_inv_p: drive a total inverter/charger
// power target, optionally with additional export headroom ("excess").
func (e *Engine) CalcInvP(t Telemetry, p float64, excessOK bool, excess float64) ([]float64, Diagnostics) {
	return e.decideAndSpread(t, p, excessOK, excess)
}

// CalcGridP mirrors InvControl.calc_grid_p: hold grid import/export at p by
// reusing calc_inv_p on the complementary inverter target, since
// p_cons + p_grid + p_inv == 0.
func (e *Engine) CalcGridP(t Telemetry, p float64, excessOK bool, excess float64) ([]float64, Diagnostics) {
	return e.decideAndSpread(t, -t.PCons-p, excessOK, excess)
}

// CalcBattI mirrors InvControl.calc_batt_i: hold the battery current at i by
// converting the clamped request to an equivalent inverter power target,
// since i_pv + i_batt + i_inv == 0.
func (e *Engine) CalcBattI(t Telemetry, i float64) ([]float64, Diagnostics) {
	ii := i
	if ii < t.IBMin {
		ii = t.IBMin
	}
	if ii > t.IBMax {
		ii = t.IBMax
	}
	p := PFromI(-ii-t.IPV, t.UDC, e.Cfg.InvEff, false)
	return e.decideAndSpread(t, p, false, 0)
}

// Adjust applies the overload redistributor to a fresh phase vector, given
// the setpoints last requested and what telemetry now reports the inverters
// actually achieved. The mode runner calls this after CalcInvP/CalcGridP/
// CalcBattI once a telemetry round-trip is available.
func (e *Engine) Adjust(ps, pSet, pRun []float64) []float64 {
	if len(ps) <= 1 {
		return ps
	}
	return e.Overload.Adjust(ps, pSet, pRun)
}

// LastPhases returns the most recently computed per-phase vector.
func (e *Engine) LastPhases() []float64 {
	return e.lastPs
}
