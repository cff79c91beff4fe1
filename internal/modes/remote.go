package modes

import "context"

func init() {
	register("remote", func() Mode { return &remoteMode{} })
}

// remoteMode implements dynamic SoC-band control with hysteresis between
// four internal sub-modes: 1 (stopped), 2 (grid-only/zero), 3 (feed-out),
// 0 (constant power). Grounded on remote.py; SoC thresholds are normalized
// to fractions in [0,1] here rather than the source's 0-100 percentages
// (spec-level decision, see DESIGN.md).
type remoteMode struct{}

func (m *remoteMode) Name() string { return "remote" }

func (m *remoteMode) ParamDocs() map[string]string {
	return map[string]string{
		"power":        "Max power to send to the grid",
		"low_grid":     "Do grid-zero in sub-mode 2? (1/0)",
		"soc_low_zero": "SoC at/below which the inverter is stopped",
		"soc_low":      "SoC at/below which grid-only mode starts",
		"soc_low_ok":   "SoC at/above which grid-only mode ends",
		"soc_high":     "SoC at/above which feed-out mode starts",
		"soc_high_ok":  "SoC at/below which feed-out mode ends",
	}
}

func (m *remoteMode) Run(ctx context.Context, c Controller, op map[string]float64, ready func()) error {
	first := true
	for {
		socLow := max64(min64(opGet(op, "soc_low", 0.20), 0.80), 0.10)
		socLowZero := max64(0.05, min64(opGet(op, "soc_low_zero", 0.99), socLow-0.02))
		socLowOk := max64(opGet(op, "soc_low_ok", 0), socLow+0.02)
		socHigh := max64(min64(opGet(op, "soc_high", 0.90), 0.97), socLow+0.10)
		socHighOk := max64(min64(opGet(op, "soc_high_ok", 0.85), 0.95), socHigh-0.02)

		mode := int(opGet(op, "mode", 3))
		lowGrid := opBool(op, "low_grid", true)
		power := max64(opGet(op, "power", 0), 0)

		soc := c.BattSoc()
		if soc <= socLowZero {
			mode = 1
		} else if mode == 1 && soc >= socLow {
			mode = 2
		}
		if mode != 1 && soc <= socLow {
			mode = 2
		} else if (mode == 1 || mode == 2) && soc >= socLowOk {
			mode = 0
		}
		if soc >= socHigh {
			mode = 3
		} else if mode == 3 && soc <= socHighOk {
			mode = 0
		}
		op["mode"] = float64(mode)

		var ps []float64
		var err error
		switch {
		case mode == 1 || (mode == 2 && !lowGrid):
			ps, err = c.CalcInvP(0, true, 0, 0, false)
		case mode == 2:
			ip := c.SolarP()
			if -c.PCons() < ip {
				ip = -c.PCons()
			}
			ps, err = c.CalcInvP(ip, true, 0, 0, false)
		case mode == 3:
			p := c.SolarP() + c.PCons()
			if power > p {
				p = power
			}
			ps, err = c.CalcGridP(-p, true, 0)
		default:
			ps, err = c.CalcGridP(-power, true, 0)
		}
		if err != nil {
			return err
		}
		if err := c.SetInvPs(ctx, ps); err != nil {
			return err
		}
		if first {
			ready()
			first = false
		}
		if err := c.Trigger(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
