package govern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatteryCurrentAverage_ZeroUntilFull(t *testing.T) {
	var a BatteryCurrentAverage
	assert.Equal(t, 0.0, a.Add(10))
	assert.Equal(t, 0.0, a.Add(10))
	assert.Equal(t, 0.0, a.Add(10))
	assert.Equal(t, 10.0, a.Add(10))
}

func TestBatteryCurrentAverage_SlidesWindow(t *testing.T) {
	var a BatteryCurrentAverage
	a.Add(0)
	a.Add(0)
	a.Add(0)
	a.Add(0)
	assert.Equal(t, 0.0, a.Average())
	got := a.Add(40)
	assert.Equal(t, 10.0, got)
}

func TestPVMaxMargin_AdoptsRisingMax(t *testing.T) {
	cfg := PVMarginConfig{MaxThreshold: 1000, InitialMargin: 0.4}
	p := NewPVMaxMargin(cfg)
	p.Update(10, cfg)
	max, _ := p.Update(20, cfg)
	assert.Equal(t, 20.0, max)
}

func TestPVMaxMargin_DecaysTowardLowerSample(t *testing.T) {
	cfg := PVMarginConfig{MaxThreshold: 1000, InitialMargin: 0.4}
	p := NewPVMaxMargin(cfg)
	p.Update(500, cfg)
	// Below threshold: decays slowly instead of self-tightening the margin.
	max, margin := p.Update(480, cfg)
	assert.InDelta(t, 500+(480-500)/20.0, max, 1e-9)
	assert.Equal(t, 0.4, margin)
}

func TestPVMaxMargin_SelfTightensAboveThreshold(t *testing.T) {
	cfg := PVMarginConfig{MaxThreshold: 1000, InitialMargin: 0.4}
	p := NewPVMaxMargin(cfg)
	p.Update(1200, cfg)
	// Drop far enough below max*margin while max exceeds the threshold:
	// the margin tightens to the observed ratio instead of decaying max.
	_, margin := p.Update(100, cfg)
	assert.InDelta(t, 100.0/1200.0, margin, 1e-9)
}
