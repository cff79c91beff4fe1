package control

import "fmt"

// RuleResult is one entry of the decide() diagnostic trail: a rule's
// inputs, whether its predicate fired, and the fix it applied.
type RuleResult struct {
	Rule   string
	Fired  bool
	Detail string
	IBatt  float64
	IInv   float64
	P      float64
}

// Inputs bundles the telemetry and derived values decide() needs. All
// currents are amps, battery-bus sign convention (positive = battery to
// bus); all powers are watts, AC-node sign convention (positive = inverter
// to AC).
type Inputs struct {
	Cfg Config

	UDC    float64 // battery bus voltage as read from telemetry; no internal-resistance correction is applied
	IPV    float64
	IPVMax float64 // decaying PV current estimate (govern.PVMaxMargin)

	BCap  float64 // BMS-reported capacity, Ah
	UMax  float64 // BMS max charge voltage
	UMin  float64 // BMS min discharge voltage
	IBMin float64 // <= 0; zero when BMS disallows discharge
	IBMax float64 // >= 0; zero when BMS disallows charge
}

// Diagnostics is the decide() output's auditable trail, matching spec
// §4.3's snapshot shape.
type Diagnostics struct {
	Init  float64
	Dest  float64
	Rules []RuleResult
	IBatt float64
	IInv  float64
}

// Decide applies the ordered R1..R8 constraint pipeline to a requested AC
// power pReq, returning the resulting scalar AC power and the diagnostic
// trail. excessOK reports whether an excess cap is in effect; when it is and
// excess is not negative, p is additionally capped at pReq+excess on the
// export side (R8). A negative excess leaves the export side uncapped.
//
// Grounded rule-for-rule on calc_inv_p in
// original_source/victron/inv/__init__.py.
func Decide(in Inputs, pReq float64, excessOK bool, excess float64) (float64, Diagnostics) {
	cfg := in.Cfg
	diag := Diagnostics{Init: pReq}

	record := func(rr RuleResult) {
		diag.Rules = append(diag.Rules, rr)
	}

	iInv := IFromP(pReq, in.UDC, cfg.InvEff, true)
	iBatt := -iInv - in.IPV

	// R1 I_PVD — leave headroom on the charge limit so rising PV can be observed.
	iMax := in.IBMax - iInv
	if in.IPVMax > cfg.PVDelta && iMax-iBatt < cfg.PVDelta {
		iBatt = iMax - cfg.PVDelta
		record(RuleResult{Rule: "I_PVD", Fired: true, Detail: "ib=imax-pv_delta", IBatt: iBatt})
	} else {
		record(RuleResult{Rule: "I_PVD", Fired: false})
	}

	// R2 U_MAX — taper charge current as u_dc approaches u_max.
	topOffTerm := cfg.UMaxDiff
	if cfg.TopOff {
		topOffTerm = 0
	}
	iMaxChg := (in.BCap / cfg.CapScale) * (topOffTerm - (in.UMax - in.UDC)) / cfg.UMaxDiff
	if iBatt < iMaxChg {
		iBatt = iMaxChg
		iInv = -iBatt - in.IPV
		record(RuleResult{Rule: "U_MAX", Fired: true, Detail: "ib=max", IBatt: iBatt, IInv: iInv})
	} else {
		record(RuleResult{Rule: "U_MAX", Fired: false})
	}

	// R3 U_MIN — taper discharge as u_dc approaches u_min.
	iMaxDis := -(in.BCap / cfg.CapScale) * (cfg.UMinDiff - (in.UDC - in.UMin)) / cfg.UMinDiff
	if iBatt > iMaxDis {
		iBatt = iMaxDis
		iInv = -iBatt - in.IPV
		record(RuleResult{Rule: "U_MIN", Fired: true, Detail: "ib=min", IBatt: iBatt, IInv: iInv})
	} else {
		record(RuleResult{Rule: "U_MIN", Fired: false})
	}

	// R4 I_MAX — leave headroom on the PV side so rising PV isn't clipped.
	iPVMaxSet := -in.IBMin - iInv // what systemcalc would set the PV ceiling to
	if iPVMaxSet-in.IPV < cfg.PVDelta {
		d := cfg.PVDelta - (iPVMaxSet - in.IPV)
		iBatt -= d
		iInv = -iBatt - in.IPV
		record(RuleResult{Rule: "I_MAX", Fired: true, Detail: "ib-=d", IBatt: iBatt, IInv: iInv})
	} else {
		record(RuleResult{Rule: "I_MAX", Fired: false})
	}

	p := PFromI(iInv, in.UDC, cfg.InvEff, false)

	// R5 P_MIN/P_MAX — configured grid import/export limits.
	if p < cfg.PGMin {
		p = cfg.PGMin
		record(RuleResult{Rule: "P_MIN", Fired: true, Detail: "p=min", P: p})
	} else {
		record(RuleResult{Rule: "P_MIN", Fired: false})
	}
	if p > cfg.PGMax {
		p = cfg.PGMax
		record(RuleResult{Rule: "P_MAX", Fired: true, Detail: "p=max", P: p})
	} else {
		record(RuleResult{Rule: "P_MAX", Fired: false})
	}

	// R6 I_MIN — PV-drop safety on the discharge side.
	iInv = IFromP(p, in.UDC, cfg.InvEff, true)
	iBatt = -iInv - in.IPV
	iPVMin := in.IPVMax * cfg.PVMargin
	if -iInv-iPVMin > in.IBMax {
		iInv = -iPVMin - in.IBMax
		iBatt = -iInv - in.IPV
		record(RuleResult{Rule: "I_MIN", Fired: true, Detail: "inv=-pvmin-ibmax", IBatt: iBatt, IInv: iInv})
	} else {
		record(RuleResult{Rule: "I_MIN", Fired: false})
	}

	// R7 IB_ERR_L/H — hard battery clamp.
	if iBatt < in.IBMin {
		iBatt = in.IBMin
		iInv = -iBatt - in.IPV
		record(RuleResult{Rule: "IB_ERR_L", Fired: true, Detail: "batt=min", IBatt: iBatt, IInv: iInv})
	}
	if iBatt > in.IBMax {
		iBatt = in.IBMax
		iInv = -iBatt - in.IPV
		record(RuleResult{Rule: "IB_ERR_H", Fired: true, Detail: "batt=max", IBatt: iBatt, IInv: iInv})
	}

	p = PFromI(iInv, in.UDC, cfg.InvEff, false)

	// R8 P_EXC — cap additional feed-out when the battery is full.
	if excessOK && excess >= 0 && p > 0 && p > pReq+excess {
		p = pReq + excess
		record(RuleResult{Rule: "P_EXC", Fired: true, Detail: "p=op+exc", P: p})
	} else {
		record(RuleResult{Rule: "P_EXC", Fired: false})
	}

	diag.Dest = p
	diag.IBatt = iBatt
	diag.IInv = iInv
	return p, diag
}

func (r RuleResult) String() string {
	if !r.Fired {
		return fmt.Sprintf("%s: ok", r.Rule)
	}
	return fmt.Sprintf("%s: %s (ibatt=%.2f iinv=%.2f p=%.1f)", r.Rule, r.Detail, r.IBatt, r.IInv, r.P)
}
