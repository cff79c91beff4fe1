package modes

import "context"

func init() {
	register("p_grid", func() Mode { return &gridMode{} })
	register("p_inv", func() Mode { return &invMode{} })
	register("i_batt", func() Mode { return &battMode{} })
}

// gridMode strives to maintain a constant flow of power from/to the grid.
// Grounded on grid_power.py.
type gridMode struct{}

func (m *gridMode) Name() string { return "p_grid" }

func (m *gridMode) ParamDocs() map[string]string {
	return map[string]string{
		"power":  "Power to take from(+) / send to(-) the grid",
		"excess": "Max PV power to the grid if the battery is limited/full; negative = unlimited",
	}
}

func (m *gridMode) Run(ctx context.Context, c Controller, op map[string]float64, ready func()) error {
	first := true
	for {
		power := opGet(op, "power", 0)
		excess, hasExcess := op["excess"]
		ps, err := c.CalcGridP(power, hasExcess, excess)
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

// invMode strives to maintain a constant flow of power through the
// inverter. Grounded on inv_power.py.
type invMode struct{}

func (m *invMode) Name() string { return "p_inv" }

func (m *invMode) ParamDocs() map[string]string {
	return map[string]string{
		"power":  "Power for the inverter to send to(+) / take from(-) AC",
		"excess": "Additional power to send if available/battery full; negative = unlimited",
		"phase":  "Phase to (ab)use; default distributes per load",
	}
}

func (m *invMode) Run(ctx context.Context, c Controller, op map[string]float64, ready func()) error {
	first := true
	for {
		power := opGet(op, "power", 0)
		excess, hasExcess := op["excess"]
		phaseF, hasPhase := op["phase"]
		ps, err := c.CalcInvP(power, hasExcess, excess, int(phaseF), hasPhase)
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

// battMode strives to hold the battery current constant: AC output is set
// to the difference between PV input and the intended battery current.
// Grounded on batt_current.py.
type battMode struct{}

func (m *battMode) Name() string { return "i_batt" }

func (m *battMode) ParamDocs() map[string]string {
	return map[string]string{"current": "Current to take from(+) / send to(-) the battery"}
}

func (m *battMode) Run(ctx context.Context, c Controller, op map[string]float64, ready func()) error {
	first := true
	for {
		current := opGet(op, "current", 0)
		ps, err := c.CalcBattI(current)
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
