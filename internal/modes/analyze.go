package modes

import (
	"context"
	"errors"
	"time"
)

func init() {
	register("analyze", func() Mode { return &analyzeMode{} })
}

const analyzePollInterval = 3 * time.Second
const analyzeSettleCount = 3

// analyzeMode characterises the battery's usable capacity and charge/
// discharge efficiency loss in a sequence of long-running, individually
// resumable steps. Grounded directly on analyze.py, restated over the
// simpler min_cell/max_cell telemetry scalars this controller exposes
// (rather than the original's full per-cell BMS configuration dict).
type analyzeMode struct {
	eDis, eChg       float64
	eDisC, eChgD     float64
	haveDis, haveChg bool
}

func (m *analyzeMode) Name() string { return "analyze" }

func (m *analyzeMode) ParamDocs() map[string]string {
	return map[string]string{
		"p_chg":    "Power when charging",
		"p_dis":    "Power when discharging",
		"excess":   "Additional power to the grid if available/battery full; negative = unlimited",
		"balance":  "Seconds to hold top balance; negative = skip balancing",
		"skip":     "Skip the first N processing steps",
		"use_grid": "Power values refer to the grid, not the inverter (1/0)",
		"e_dis":    "Discharge energy (Ws), if step 4 is skipped",
		"e_chg":    "Charge energy (Ws), if step 5 is skipped",
	}
}

func (m *analyzeMode) setP(ctx context.Context, c Controller, useGrid bool, excess float64, hasExcess bool, p float64) error {
	var ps []float64
	var err error
	if useGrid {
		ps, err = c.CalcGridP(p, hasExcess, excess)
	} else {
		ps, err = c.CalcInvP(p, hasExcess, excess, 0, false)
	}
	if err != nil {
		return err
	}
	return c.SetInvPs(ctx, ps)
}

func (m *analyzeMode) Run(ctx context.Context, c Controller, op map[string]float64, ready func()) error {
	pChg := opGet(op, "p_chg", 0)
	pDis := opGet(op, "p_dis", 0)
	excess, hasExcess := op["excess"]
	tBalance := opGet(op, "balance", 0)
	useGrid := opBool(op, "use_grid", false)
	skip := int(opGet(op, "skip", 0))

	if (pDis < 0) != useGrid {
		c.SetState("analyze", map[string]any{
			"p_chg": pChg, "p_dis": pDis, "error": "p_dis has the wrong sign",
		})
		ready()
		return errors.New("analyze: p_dis has the wrong sign")
	}

	ready()

	// Step 1: top-balance.
	if skip > 0 {
		skip--
	} else if tBalance > -1 {
		c.SetTopOff(true)
		if err := m.runUntil(ctx, c, "balance", analyzeSettleCount, func() (bool, map[string]any, error) {
			min, max, err := c.BMS().CellVoltages(ctx)
			if err != nil {
				return false, nil, err
			}
			lim, err := c.BMS().Limits(ctx)
			if err != nil {
				return false, nil, err
			}
			umin := (lim.ULimMax + lim.UExtMax) / 2
			done := min >= umin && max-min < lim.BalanceDelta*3
			if err := m.setP(ctx, c, useGrid, excess, hasExcess, pChg); err != nil {
				return false, nil, err
			}
			return done, map[string]any{"min": min, "max": max, "umin": umin}, nil
		}); err != nil {
			return err
		}
		if err := m.holdFor(ctx, c, tBalance, useGrid, excess, hasExcess, pChg); err != nil {
			return err
		}
	}

	// Step 2: descend below top.
	if skip > 0 {
		skip--
	} else if err := m.runUntil(ctx, c, "below_top", analyzeSettleCount, func() (bool, map[string]any, error) {
		min, max, err := c.BMS().CellVoltages(ctx)
		if err != nil {
			return false, nil, err
		}
		lim, err := c.BMS().Limits(ctx)
		if err != nil {
			return false, nil, err
		}
		umin := 2*lim.ULimMax - lim.UExtMax
		done := max < umin || min < lim.UExtMin
		if err := m.setP(ctx, c, useGrid, excess, hasExcess, pDis); err != nil {
			return false, nil, err
		}
		return done, map[string]any{"min": min, "max": max, "umin": umin}, nil
	}); err != nil {
		return err
	}

	// Step 3: charge to normal top.
	if skip > 0 {
		skip--
	} else {
		if err := m.toTop(ctx, c, useGrid, excess, hasExcess, pChg); err != nil {
			return err
		}
		if _, _, err := c.BMS().Work(ctx, true, true); err != nil {
			return err
		}
	}

	// Step 4: discharge to bottom, recording e_dis/e_chg_d.
	if skip > 0 {
		skip--
		m.eDis = opGet(op, "e_dis", 0)
		m.haveDis = true
		if skip == 0 {
			if _, _, err := c.BMS().Work(ctx, true, true); err != nil {
				return err
			}
		}
	} else {
		if _, _, err := c.BMS().Work(ctx, true, true); err != nil {
			return err
		}
		if err := m.toBottom(ctx, c, useGrid, excess, hasExcess, pDis); err != nil {
			return err
		}
		chg, dis, err := c.BMS().Work(ctx, true, true)
		if err != nil {
			return err
		}
		m.eDis = dis
		m.eChgD = chg
		m.haveDis = true
	}

	// Step 5: recharge to top, recording e_chg/e_dis_c.
	if skip > 0 {
		skip--
		m.eChg = opGet(op, "e_chg", 0)
		m.haveChg = true
		if skip == 0 {
			if _, _, err := c.BMS().Work(ctx, true, true); err != nil {
				return err
			}
		}
	} else {
		if err := m.toTop(ctx, c, useGrid, excess, hasExcess, pChg); err != nil {
			return err
		}
		chg, dis, err := c.BMS().Work(ctx, true, true)
		if err != nil {
			return err
		}
		m.eChg = chg
		m.eDisC = dis
		m.haveChg = true
	}

	// Step 6: derive the loss factor and program the BMS.
	loss := 1 - (m.eDis+m.eDisC)/(m.eChg+m.eChgD+1)

	info := map[string]any{"chg": m.eChg, "dis": m.eDis, "chg_d": m.eChgD, "dis_c": m.eDisC, "loss": loss}
	switch {
	case loss < 0:
		info["test"] = "chg>dis"
	case skip > 0:
		info["done"] = true
		info["error"] = "Skipped"
	default:
		info["done"] = true
		if err := c.BMS().SetCapacity(ctx, m.eDis, loss, true); err != nil {
			return err
		}
	}
	if skip > 0 {
		skip--
	}
	c.SetState("analyze", info)

	// Step 7: hand off to a steady-state mode.
	if skip > 0 {
		return c.ChangeMode(ctx, "off", nil)
	}
	next := "p_inv"
	if useGrid {
		next = "p_grid"
	}
	return c.ChangeMode(ctx, next, map[string]float64{"power": 0, "excess": excess})
}

// runUntil polls step until it reports done `settle` times in a row,
// sleeping analyzePollInterval between polls.
func (m *analyzeMode) runUntil(ctx context.Context, c Controller, name string, settle int, step func() (done bool, info map[string]any, err error)) error {
	n := 0
	for {
		done, info, err := step()
		if err != nil {
			return err
		}
		if info != nil {
			info["step"] = name
			c.SetState("analyze", info)
		}
		if done {
			n++
		} else {
			n = 0
		}
		if n >= settle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(analyzePollInterval):
		}
	}
}

func (m *analyzeMode) toTop(ctx context.Context, c Controller, useGrid bool, excess float64, hasExcess bool, power float64) error {
	return m.runUntil(ctx, c, "charge", analyzeSettleCount, func() (bool, map[string]any, error) {
		min, _, err := c.BMS().CellVoltages(ctx)
		if err != nil {
			return false, nil, err
		}
		lim, err := c.BMS().Limits(ctx)
		if err != nil {
			return false, nil, err
		}
		umax := lim.ULimMax - (lim.UExtMax-lim.ULimMax)/3
		done := min > umax
		if err := m.setP(ctx, c, useGrid, excess, hasExcess, power); err != nil {
			return false, nil, err
		}
		return done, map[string]any{"min": min, "umax": umax}, nil
	})
}

func (m *analyzeMode) toBottom(ctx context.Context, c Controller, useGrid bool, excess float64, hasExcess bool, power float64) error {
	return m.runUntil(ctx, c, "discharge", analyzeSettleCount, func() (bool, map[string]any, error) {
		min, _, err := c.BMS().CellVoltages(ctx)
		if err != nil {
			return false, nil, err
		}
		lim, err := c.BMS().Limits(ctx)
		if err != nil {
			return false, nil, err
		}
		umin := lim.ULimMin + (lim.ULimMin-lim.UExtMin)/3
		done := min < umin
		if err := m.setP(ctx, c, useGrid, excess, hasExcess, power); err != nil {
			return false, nil, err
		}
		return done, map[string]any{"min": min, "umin": umin}, nil
	})
}

func (m *analyzeMode) holdFor(ctx context.Context, c Controller, seconds float64, useGrid bool, excess float64, hasExcess bool, power float64) error {
	deadline := time.Now().Add(time.Duration(seconds * float64(time.Second)))
	for {
		if err := m.setP(ctx, c, useGrid, excess, hasExcess, power); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(analyzePollInterval):
		}
	}
}
