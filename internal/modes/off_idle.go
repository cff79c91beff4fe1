package modes

import (
	"context"
	"time"
)

func init() {
	register("off", func() Mode { return &offMode{} })
	register("idle", func() Mode { return &idleMode{} })
}

// offMode sets the AC output to a fixed power once, then does nothing.
// Grounded on off.py: a manual shutoff that ignores battery limits
// entirely.
type offMode struct{}

func (m *offMode) Name() string { return "off" }

func (m *offMode) ParamDocs() map[string]string {
	return map[string]string{"power": "The power output(+)/input(-) to set"}
}

func (m *offMode) Run(ctx context.Context, c Controller, op map[string]float64, ready func()) error {
	power := opGet(op, "power", 0)
	n := c.NumPhases()
	ps := make([]float64, n)
	for i := range ps {
		ps[i] = power / float64(n)
	}
	if err := c.SetInvPs(ctx, ps); err != nil {
		return err
	}
	ready()
	<-ctx.Done()
	return nil
}

// idleMode is off, but re-emits periodically so watchdogs on the inverter
// side don't trip. Does not care about battery limits. Grounded on idle.py.
type idleMode struct{}

func (m *idleMode) Name() string { return "idle" }

func (m *idleMode) ParamDocs() map[string]string {
	return map[string]string{"power": "The power output(+)/input(-) to set"}
}

func (m *idleMode) Run(ctx context.Context, c Controller, op map[string]float64, ready func()) error {
	n := c.NumPhases()
	first := true
	for {
		power := opGet(op, "power", 0)
		ps := make([]float64, n)
		for i := range ps {
			ps[i] = power / float64(n)
		}
		if err := c.SetInvPs(ctx, ps); err != nil {
			return err
		}
		if first {
			ready()
			first = false
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(20 * time.Second):
		}
	}
}
