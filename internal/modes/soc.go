package modes

import "context"

func init() {
	register("soc", func() Mode { return &socMode{} })
}

const socDeadband = 0.02

// socMode aims for a target state of charge: it imports at power_in while
// undercharged, exports at power_out while overcharged, and holds the
// battery current at zero within a 2% deadband around dest_soc.
//
// Grounded on set_soc.py's task shape (resumable loop, one readiness
// signal on the first successful cycle); the three-way power/current
// choice itself is restated, not transliterated, since the original ties
// current directly to ib_min/ib_max*distance-from-target rather than
// going through calc_grid_p.
type socMode struct{}

func (m *socMode) Name() string { return "soc" }

func (m *socMode) ParamDocs() map[string]string {
	return map[string]string{
		"dest_soc":  "Target state of charge, fraction [0,1]",
		"power_in":  "Grid import power while undercharged",
		"power_out": "Grid export power while overcharged",
		"excess":    "Max PV power to the grid if the battery is limited/full; negative = unlimited",
	}
}

func (m *socMode) Run(ctx context.Context, c Controller, op map[string]float64, ready func()) error {
	first := true
	for {
		destSoc := opGet(op, "dest_soc", 0.5)
		powerIn := opGet(op, "power_in", 0)
		powerOut := opGet(op, "power_out", 0)
		excess, hasExcess := op["excess"]

		soc := c.BattSoc()
		var ps []float64
		var err error
		switch {
		case soc < destSoc-socDeadband:
			ps, err = c.CalcGridP(powerIn, hasExcess, excess)
		case soc > destSoc+socDeadband:
			ps, err = c.CalcGridP(powerOut, hasExcess, excess)
		default:
			ps, err = c.CalcBattI(0)
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
