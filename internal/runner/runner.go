// Package runner is the mode runner: it owns the currently running mode's
// lifecycle and implements modes.Controller by wiring a control.Engine to
// the signal cache.
//
// Grounded on __init__.py's change_mode/_start_mode_task/_run_mode_task: a
// mode switch cancels the running mode task, waits for it to actually stop,
// then instantiates and starts the replacement — never two mode goroutines
// running concurrently. The cancel-then-wait idiom is also structurally
// the shape of unified_inverter_enabler.go's single-select-loop-per-ctx
// pattern, generalized here to a loop that can itself be replaced mid-flight.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/moat-inv/invctl/internal/bus"
	"github.com/moat-inv/invctl/internal/control"
	"github.com/moat-inv/invctl/internal/govern"
	"github.com/moat-inv/invctl/internal/modes"
)

// settleWindow is the minimum time an operator must wait between mode
// switches issued through SetMode, grounded on change_mode's "too_early"
// rejection in the original source.
const settleWindow = 30 * time.Second

// readyTimeout bounds how long SetMode/Start waits for a mode's first
// ready() call before returning anyway; a slow or stuck mode must not wedge
// the control surface.
const readyTimeout = 5 * time.Second

// ErrTooEarly is returned by SetMode when called again before settleWindow
// has elapsed since the last switch.
var ErrTooEarly = errors.New("runner: mode switch too early")

// ErrUnknownMode is returned by SetMode/ChangeMode/GetModeInfo for a name
// with no registered constructor.
var ErrUnknownMode = errors.New("runner: unknown mode")

// SignalSource is the subset of bus.Cache the runner needs. Defined here,
// not in package bus, so tests can substitute a fake without a live broker.
type SignalSource interface {
	Get(path string) (bus.Signal, bool)
	Write(ctx context.Context, path string, value float64) error
}

// Paths names every bus topic the runner reads or writes, matching the
// signal table in spec §6.
type Paths struct {
	UDC     string
	IPV     string
	BCap    string
	UMax    string
	UMin    string
	IBMin   string
	IBMax   string
	BattSoc string
	SolarP  string
	PCons   string

	Load  []string // per-phase local consumption
	PCrit []string // per-phase critical load

	InvSet   []string // per-phase setpoint write paths
	ActualP  []string // per-phase observed inverter output, for overload feedback
	BattISet string
	Trigger  string
}

// Runner owns the running mode and satisfies modes.Controller.
type Runner struct {
	mu sync.Mutex

	cache SignalSource
	eng   *control.Engine
	cfg   control.Config
	paths Paths
	bms   modes.BMS

	mode       string
	op         map[string]float64
	cancel     context.CancelFunc
	stopped    chan struct{}
	lastSwitch time.Time

	lastSet []float64
	state   map[string]map[string]any

	pvTracker govern.PVMaxMargin
}

// NewRunner builds a Runner. No mode is running until Start is called.
func NewRunner(cache SignalSource, eng *control.Engine, cfg control.Config, paths Paths, bms modes.BMS) *Runner {
	return &Runner{
		cache: cache,
		eng:   eng,
		cfg:   cfg,
		paths: paths,
		bms:   bms,
		state: map[string]map[string]any{},
		pvTracker: *govern.NewPVMaxMargin(govern.PVMarginConfig{
			MaxThreshold:  cfg.PVMaxLevel,
			InitialMargin: cfg.PVMargin,
		}),
	}
}

// Start launches the configured startup mode (config.ModesDefault).
func (r *Runner) Start(ctx context.Context) error {
	return r.switchMode(ctx, r.cfg.ModesDefault, nil, false)
}

// Tick folds the latest raw PV current sample into the decaying PV-max
// estimate decide() uses for its PV-headroom rules. The caller (an
// averaging task in cmd/invctl) invokes this once per telemetry cycle,
// mirroring the reference implementation's periodic averaging tasks that
// run independent of whatever mode is active.
func (r *Runner) Tick() {
	s, ok := r.cache.Get(r.paths.IPV)
	if !ok {
		return
	}
	r.mu.Lock()
	r.pvTracker.Update(s.Value, govern.PVMarginConfig{
		MaxThreshold:  r.cfg.PVMaxLevel,
		InitialMargin: r.cfg.PVMargin,
	})
	r.mu.Unlock()
}

// SetMode is the operator-facing mode switch, enforcing the post-switch
// settle window.
func (r *Runner) SetMode(ctx context.Context, name string, params map[string]float64) error {
	r.mu.Lock()
	elapsed := time.Since(r.lastSwitch)
	hasRun := r.mode != ""
	r.mu.Unlock()
	if hasRun && elapsed < settleWindow {
		return ErrTooEarly
	}
	return r.switchMode(ctx, name, params, true)
}

// ChangeMode is the mode-internal hand-off entry point (analyze's final
// step uses this), which bypasses the operator settle window — a mode
// handing control onward is not an operator toggling modes.
func (r *Runner) ChangeMode(ctx context.Context, name string, params map[string]float64) error {
	return r.switchMode(ctx, name, params, false)
}

func (r *Runner) switchMode(ctx context.Context, name string, params map[string]float64, operator bool) error {
	ctor, ok := modes.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}

	r.mu.Lock()
	if r.cancel != nil {
		cancel, stopped := r.cancel, r.stopped
		r.mu.Unlock()
		cancel()
		<-stopped
		r.mu.Lock()
	}

	op := map[string]float64{}
	for k, v := range r.cfg.ModeDefaults[name] {
		op[k] = v
	}
	for k, v := range params {
		op[k] = v
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	r.mode = name
	r.op = op
	r.cancel = cancel
	r.stopped = stopped
	r.lastSwitch = time.Now()
	r.mu.Unlock()

	log.Printf("runner: switching to mode %q (operator=%v)", name, operator)

	m := ctor()
	readyCh := make(chan struct{}, 1)
	go func() {
		defer close(stopped)
		if err := m.Run(runCtx, r, op, func() {
			select {
			case readyCh <- struct{}{}:
			default:
			}
		}); err != nil && runCtx.Err() == nil {
			log.Printf("runner: mode %q exited: %v", name, err)
			r.SetState(name, map[string]any{"error": err.Error()})
		}
	}()

	select {
	case <-readyCh:
	case <-runCtx.Done():
	case <-time.After(readyTimeout):
	}
	return nil
}

// GetModes lists every registered mode name.
func (r *Runner) GetModes() []string { return modes.Names() }

// GetModeInfo returns a mode's documented parameters.
func (r *Runner) GetModeInfo(name string) (map[string]string, error) {
	ctor, ok := modes.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
	return ctor().ParamDocs(), nil
}

// SetModeParam patches a single key into the running mode's live op map.
func (r *Runner) SetModeParam(key string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.op == nil {
		r.op = map[string]float64{}
	}
	r.op[key] = value
}

// GetState returns a snapshot of the running mode's name, live parameters
// and diagnostic trail, matching spec §6's state-query response shape.
func (r *Runner) GetState() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]any{
		"mode": r.mode,
		"op":   copyOp(r.op),
	}
	for step, info := range r.state {
		out[step] = info
	}
	return out
}

// SetState records a diagnostic snapshot for step, satisfying
// modes.Controller; GetState folds these back in under their step name.
func (r *Runner) SetState(step string, info map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[step] = info
}

func copyOp(op map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(op))
	for k, v := range op {
		out[k] = v
	}
	return out
}

// --- modes.Controller ---

func (r *Runner) telemetry() control.Telemetry {
	get := func(p string) float64 {
		s, _ := r.cache.Get(p)
		return s.Value
	}
	load := make([]float64, len(r.paths.Load))
	for i, p := range r.paths.Load {
		load[i] = get(p)
	}
	pcrit := make([]float64, len(r.paths.PCrit))
	for i, p := range r.paths.PCrit {
		pcrit[i] = get(p)
	}

	r.mu.Lock()
	running := r.lastSet != nil
	ipvMax := r.pvTracker.Max
	r.mu.Unlock()

	return control.Telemetry{
		UDC:     get(r.paths.UDC),
		IPV:     get(r.paths.IPV),
		IPVMax:  ipvMax,
		BCap:    get(r.paths.BCap),
		UMax:    get(r.paths.UMax),
		UMin:    get(r.paths.UMin),
		IBMin:   get(r.paths.IBMin),
		IBMax:   get(r.paths.IBMax),
		BattSoc: get(r.paths.BattSoc),
		SolarP:  get(r.paths.SolarP),
		PCons:   get(r.paths.PCons),
		Load:    load,
		PCrit:   pcrit,
		NPhase:  r.cfg.NumPhases,
		TopOff:  r.cfg.TopOff,
		Fake:    r.cfg.OpFake,
		Running: running,
	}
}

func (r *Runner) recordDiag(op string, diag control.Diagnostics) {
	r.SetState(op, map[string]any{
		"init":  diag.Init,
		"dest":  diag.Dest,
		"ibatt": diag.IBatt,
		"iinv":  diag.IInv,
	})
}

func (r *Runner) CalcGridP(power float64, excessOK bool, excess float64) ([]float64, error) {
	ps, diag := r.eng.CalcGridP(r.telemetry(), power, excessOK, excess)
	r.recordDiag("calc_grid_p", diag)
	return ps, nil
}

func (r *Runner) CalcInvP(power float64, excessOK bool, excess float64, phase int, usePhase bool) ([]float64, error) {
	t := r.telemetry()
	if !usePhase {
		ps, diag := r.eng.CalcInvP(t, power, excessOK, excess)
		r.recordDiag("calc_inv_p", diag)
		return ps, nil
	}

	single := t
	single.Load = []float64{0}
	single.PCrit = []float64{0}
	single.NPhase = 1
	onePs, diag := r.eng.CalcInvP(single, power, excessOK, excess)
	r.recordDiag("calc_inv_p", diag)

	ps := make([]float64, r.cfg.NumPhases)
	if phase >= 0 && phase < len(ps) && len(onePs) > 0 {
		ps[phase] = onePs[0]
	}
	return ps, nil
}

func (r *Runner) CalcBattI(current float64) ([]float64, error) {
	ps, diag := r.eng.CalcBattI(r.telemetry(), current)
	r.recordDiag("calc_batt_i", diag)
	return ps, nil
}

func (r *Runner) SetInvPs(ctx context.Context, ps []float64) error {
	// /Ac/ActiveIn/L{i}/P reports in Multi convention (negative = feeding
	// us); negate it to the AC-node convention (positive = inverter to AC)
	// that ps/lastSet already use, so the overload detector compares like
	// with like.
	pRun := make([]float64, len(ps))
	for i, p := range r.paths.ActualP {
		if i >= len(pRun) {
			break
		}
		if s, ok := r.cache.Get(p); ok {
			pRun[i] = -s.Value
		}
	}

	r.mu.Lock()
	adjusted := ps
	if r.lastSet != nil && len(r.lastSet) == len(ps) {
		adjusted = r.eng.Adjust(ps, r.lastSet, pRun)
	}
	r.lastSet = append([]float64(nil), adjusted...)
	fake := r.cfg.OpFake
	r.mu.Unlock()

	if fake {
		return nil
	}
	for i, p := range adjusted {
		if i >= len(r.paths.InvSet) {
			break
		}
		// Victron wire convention is negative=inverting, positive=charging,
		// the opposite of this controller's AC-node sign convention.
		if err := r.cache.Write(ctx, r.paths.InvSet[i], -p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) SetBattI(ctx context.Context, i float64) error {
	if r.cfg.OpFake {
		return nil
	}
	return r.cache.Write(ctx, r.paths.BattISet, i)
}

// Trigger paces a mode's loop: it polls the inverter's total-power reading
// (paths.Trigger) up to 10 times, 500 ms apart, and returns as soon as two
// consecutive samples differ by less than PStep, or when ctx ends.
func (r *Runner) Trigger(ctx context.Context) error {
	for i, last := 0, 0.0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
		s, _ := r.cache.Get(r.paths.Trigger)
		if d := s.Value - last; i > 0 && d < r.cfg.PStep && -d < r.cfg.PStep {
			return nil
		}
		last = s.Value
	}
	return nil
}

func (r *Runner) BattSoc() float64 { s, _ := r.cache.Get(r.paths.BattSoc); return s.Value }
func (r *Runner) SolarP() float64  { s, _ := r.cache.Get(r.paths.SolarP); return s.Value }
func (r *Runner) PCons() float64   { s, _ := r.cache.Get(r.paths.PCons); return s.Value }
func (r *Runner) NumPhases() int   { return r.cfg.NumPhases }

func (r *Runner) SetTopOff(v bool) {
	r.mu.Lock()
	r.cfg.TopOff = v
	r.mu.Unlock()
}

func (r *Runner) BMS() modes.BMS { return r.bms }
