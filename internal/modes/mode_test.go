package modes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBMS struct {
	minCell, maxCell float64
	limits           Limits
	chg, dis         float64
	capDis, capLoss  float64
	capTop           bool
	capSet           bool
}

func (f *fakeBMS) CellVoltages(ctx context.Context) (float64, float64, error) {
	return f.minCell, f.maxCell, nil
}
func (f *fakeBMS) Limits(ctx context.Context) (Limits, error) { return f.limits, nil }
func (f *fakeBMS) Work(ctx context.Context, poll, clear bool) (float64, float64, error) {
	return f.chg, f.dis, nil
}
func (f *fakeBMS) SetCapacity(ctx context.Context, dis, loss float64, top bool) error {
	f.capDis, f.capLoss, f.capTop, f.capSet = dis, loss, top, true
	return nil
}

type fakeController struct {
	nPhase   int
	soc      float64
	solarP   float64
	pCons    float64
	lastPs   []float64
	triggers int
	modeReq  string
	modeArgs map[string]float64
	bms      *fakeBMS
	topOff   bool
}

func (f *fakeController) CalcGridP(power float64, excessOK bool, excess float64) ([]float64, error) {
	ps := make([]float64, f.nPhase)
	for i := range ps {
		ps[i] = (-f.pCons - power) / float64(f.nPhase)
	}
	return ps, nil
}

func (f *fakeController) CalcInvP(power float64, excessOK bool, excess float64, phase int, usePhase bool) ([]float64, error) {
	ps := make([]float64, f.nPhase)
	for i := range ps {
		ps[i] = power / float64(f.nPhase)
	}
	return ps, nil
}

func (f *fakeController) CalcBattI(current float64) ([]float64, error) {
	ps := make([]float64, f.nPhase)
	return ps, nil
}

func (f *fakeController) SetInvPs(ctx context.Context, ps []float64) error {
	f.lastPs = ps
	return nil
}
func (f *fakeController) SetBattI(ctx context.Context, i float64) error { return nil }
func (f *fakeController) Trigger(ctx context.Context) error {
	f.triggers++
	return nil
}
func (f *fakeController) BattSoc() float64 { return f.soc }
func (f *fakeController) SolarP() float64  { return f.solarP }
func (f *fakeController) PCons() float64   { return f.pCons }
func (f *fakeController) NumPhases() int   { return f.nPhase }
func (f *fakeController) ChangeMode(ctx context.Context, name string, params map[string]float64) error {
	f.modeReq = name
	f.modeArgs = params
	return nil
}
func (f *fakeController) SetState(step string, info map[string]any) {}
func (f *fakeController) SetTopOff(v bool)                           { f.topOff = v }
func (f *fakeController) BMS() BMS                                  { return f.bms }

func TestRegistry_AllEightModesRegistered(t *testing.T) {
	names := Names()
	assert.Len(t, names, 8)
	for _, n := range []string{"off", "idle", "p_grid", "p_inv", "i_batt", "soc", "remote", "analyze"} {
		_, ok := Get(n)
		assert.True(t, ok, "missing mode %s", n)
	}
}

func TestOffMode_EmitsOnceThenBlocks(t *testing.T) {
	c := &fakeController{nPhase: 2}
	ctx, cancel := context.WithCancel(context.Background())
	readyCh := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- (&offMode{}).Run(ctx, c, map[string]float64{"power": 100}, func() { close(readyCh) })
	}()

	select {
	case <-readyCh:
	case <-time.After(time.Second):
		t.Fatal("ready never called")
	}
	assert.InDeltaSlice(t, []float64{50, 50}, c.lastPs, 1e-9)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("off mode did not exit after cancel")
	}
}

func TestRemoteMode_LowSocStopsInverter(t *testing.T) {
	c := &fakeController{nPhase: 1, soc: 0.05}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	readyCh := make(chan struct{})
	go (&remoteMode{}).Run(ctx, c, map[string]float64{}, func() { close(readyCh) })

	select {
	case <-readyCh:
	case <-time.After(time.Second):
		t.Fatal("ready never called")
	}
	assert.InDeltaSlice(t, []float64{0}, c.lastPs, 1e-9)
}

func TestAnalyzeMode_LossFormulaMatchesScenario(t *testing.T) {
	m := &analyzeMode{eDis: 9500, eChgD: 200, eDisC: 300, eChg: 10000}
	loss := 1 - (m.eDis+m.eDisC)/(m.eChg+m.eChgD+1)
	assert.InDelta(t, 0.0393, loss, 1e-3)
}
