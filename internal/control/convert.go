package control

// IFromP converts a desired AC power p (watts) into the DC current the
// inverter would draw/supply at the given bus voltage. Set rev to ask "what
// DC current would I need to reach this AC power" rather than "what DC
// current does this AC power correspond to" — the two differ in which side
// of the efficiency loss the adjustment is applied to.
//
// Grounded directly on i_from_p in original_source/victron/inv/__init__.py;
// an implementer must reproduce the same four sign/direction combinations,
// so this is transliterated rather than reshaped.
func IFromP(p, uDC, invEff float64, rev bool) float64 {
	res := -p / uDC
	if rev == (res < 0) {
		res /= invEff
	} else {
		res *= invEff
	}
	return res
}

// PFromI is the inverse of IFromP: converts a DC current into an AC power.
func PFromI(i, uDC, invEff float64, rev bool) float64 {
	res := -i * uDC
	if rev == (res > 0) {
		res /= invEff
	} else {
		res *= invEff
	}
	return res
}
