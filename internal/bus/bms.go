package bus

import (
	"context"
	"fmt"

	"github.com/moat-inv/invctl/internal/modes"
)

// BMSPaths names the battery-management topics the capacity analysis mode
// reads and writes, layered on top of the BMS service paths spec §6 lists
// (/Info/BatteryLowVoltage, /Info/MaxChargeVoltage, .../Capacity) with the
// per-cell and historical-energy paths analyze.py's full BMS configuration
// dict expects but the base telemetry table doesn't name.
type BMSPaths struct {
	CellVoltageMin string
	CellVoltageMax string

	LimMax       string // /Info/MaxChargeVoltage equivalent, per-cell
	ExtMax       string
	LimMin       string
	ExtMin       string
	BalanceDelta string

	ChargedEnergy    string // monotonic Wh counters
	DischargedEnergy string

	Capacity string // /Capacity, write
	LossFactor string
	TopOff     string
}

// BMS adapts Cache to modes.BMS. Work's poll/clear semantics are realized as
// a snapshot-and-delta over the monotonic charged/discharged energy
// counters: poll takes a fresh reading, clear re-bases the snapshot so the
// next call reports only newly accumulated energy.
type BMS struct {
	cache *Cache
	paths BMSPaths

	chgBase, disBase float64
	based            bool
}

// NewBMS builds a Cache-backed BMS.
func NewBMS(cache *Cache, paths BMSPaths) *BMS {
	return &BMS{cache: cache, paths: paths}
}

func (b *BMS) get(path string) (float64, error) {
	s, ok := b.cache.Get(path)
	if !ok {
		return 0, fmt.Errorf("bus: %s: absent", path)
	}
	return s.Value, nil
}

func (b *BMS) CellVoltages(ctx context.Context) (min, max float64, err error) {
	min, err = b.get(b.paths.CellVoltageMin)
	if err != nil {
		return 0, 0, err
	}
	max, err = b.get(b.paths.CellVoltageMax)
	if err != nil {
		return 0, 0, err
	}
	return min, max, nil
}

func (b *BMS) Limits(ctx context.Context) (modes.Limits, error) {
	var lim modes.Limits
	var err error
	if lim.ULimMax, err = b.get(b.paths.LimMax); err != nil {
		return lim, err
	}
	if lim.UExtMax, err = b.get(b.paths.ExtMax); err != nil {
		return lim, err
	}
	if lim.ULimMin, err = b.get(b.paths.LimMin); err != nil {
		return lim, err
	}
	if lim.UExtMin, err = b.get(b.paths.ExtMin); err != nil {
		return lim, err
	}
	if lim.BalanceDelta, err = b.get(b.paths.BalanceDelta); err != nil {
		return lim, err
	}
	return lim, nil
}

func (b *BMS) Work(ctx context.Context, poll, clear bool) (chg, dis float64, err error) {
	if !poll {
		return 0, 0, nil
	}
	chgTotal, err := b.get(b.paths.ChargedEnergy)
	if err != nil {
		return 0, 0, err
	}
	disTotal, err := b.get(b.paths.DischargedEnergy)
	if err != nil {
		return 0, 0, err
	}

	if !b.based {
		b.chgBase, b.disBase = chgTotal, disTotal
		b.based = true
	}

	chg = chgTotal - b.chgBase
	dis = disTotal - b.disBase

	if clear {
		b.chgBase, b.disBase = chgTotal, disTotal
	}
	return chg, dis, nil
}

func (b *BMS) SetCapacity(ctx context.Context, dis, loss float64, top bool) error {
	if err := b.cache.Write(ctx, b.paths.Capacity, dis); err != nil {
		return err
	}
	if err := b.cache.Write(ctx, b.paths.LossFactor, loss); err != nil {
		return err
	}
	v := 0.0
	if top {
		v = 1
	}
	return b.cache.Write(ctx, b.paths.TopOff, v)
}

var _ modes.BMS = (*BMS)(nil)
