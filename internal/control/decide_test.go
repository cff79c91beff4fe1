package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// baseInputs mirrors the single-phase reference fixture: u_dc=100,
// inv_eff=0.25, ib_min=-20, ib_max=40. PV headroom rules are isolated by
// zeroing PVDelta/IPVMax unless a test is specifically exercising them, so
// the grid/battery clamp rules can be checked in isolation.
func baseInputs() Inputs {
	cfg := DefaultConfig()
	cfg.InvEff = 0.25
	cfg.PGMin = -1100
	cfg.PGMax = 1100
	cfg.PVDelta = 0
	return Inputs{
		Cfg:   cfg,
		UDC:   100,
		IBMin: -20,
		IBMax: 40,
		BCap:  1e9, // effectively unconstrained charge/discharge taper
		UMax:  1e9,
		UMin:  -1e9,
	}
}

func TestDecide_ZeroRequestNoOp(t *testing.T) {
	p, _ := Decide(baseInputs(), 0, false, 0)
	assert.InDelta(t, 0.0, p, 1e-9)
}

func TestDecide_SmallExportPassesThrough(t *testing.T) {
	p, _ := Decide(baseInputs(), 100, false, 0)
	assert.InDelta(t, 100.0, p, 1e-9)
}

func TestDecide_SmallImportPassesThrough(t *testing.T) {
	p, _ := Decide(baseInputs(), -100, false, 0)
	assert.InDelta(t, -100.0, p, 1e-9)
}

func TestDecide_GridExportCappedByPGMax(t *testing.T) {
	in := baseInputs()
	in.IBMax = 100
	p, diag := Decide(in, 2000, false, 0)
	assert.InDelta(t, 1100.0, p, 1e-9)
	assert.True(t, ruleFired(diag, "P_MAX"))
}

func TestDecide_BatteryStaysWithinBoundsUnderHeavyCharge(t *testing.T) {
	in := baseInputs()
	p, diag := Decide(in, -10000, false, 0)
	assert.GreaterOrEqual(t, diag.IBatt, in.IBMin-1e-6)
	assert.LessOrEqual(t, diag.IBatt, in.IBMax+1e-6)
	assert.GreaterOrEqual(t, p, in.Cfg.PGMin-1e-6)
	assert.LessOrEqual(t, p, in.Cfg.PGMax+1e-6)
}

func TestDecide_PVHeadroomClipsExport(t *testing.T) {
	in := baseInputs()
	in.Cfg.PVDelta = 30
	in.IPV = 55
	p, diag := Decide(in, 1000, false, 0)
	assert.GreaterOrEqual(t, diag.IBatt, in.IBMin-1e-6)
	assert.LessOrEqual(t, diag.IBatt, in.IBMax+1e-6)
	assert.True(t, ruleFired(diag, "I_MAX"))
	// R4 pulls i_batt past ib_min (-40 against a -20 floor), so R7's hard
	// clamp also fires and is the rule that actually sets the final p; pin
	// the exact value so a change to either rule's arithmetic is caught.
	assert.True(t, ruleFired(diag, "IB_ERR_L"))
	assert.InDelta(t, 875.0, p, 1e-9)
}

func TestDecide_ExcessCapsAdditionalExport(t *testing.T) {
	in := baseInputs()
	p, diag := Decide(in, 100, true, 20)
	assert.LessOrEqual(t, p, 120.0+1e-9)
	_ = diag
}

func TestDecide_EfficiencyRoundTrip(t *testing.T) {
	for _, p := range []float64{1, 100, -100, 2500, -2500} {
		for _, rev := range []bool{true, false} {
			i := IFromP(p, 100, 0.9, rev)
			got := PFromI(i, 100, 0.9, !rev)
			assert.InDelta(t, p, got, 1e-9)
		}
	}
}

func ruleFired(d Diagnostics, name string) bool {
	for _, r := range d.Rules {
		if r.Rule == name && r.Fired {
			return true
		}
	}
	return false
}
