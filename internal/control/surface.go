package control

import "context"

// Surface is the control-surface contract both operator front ends (the
// cli console and the statuspush websocket feed) drive: mode introspection,
// mode switching, live parameter patches, and a diagnostic state snapshot.
//
// Grounded on spec §6's GetModes/GetModeInfo/SetMode/SetModeParam/GetState
// operations; the mode runner (package runner) is the concrete
// implementation, kept out of this package to avoid an import cycle
// (runner depends on control, not the reverse).
type Surface interface {
	GetModes() []string
	GetModeInfo(name string) (map[string]string, error)
	SetMode(ctx context.Context, name string, params map[string]float64) error
	SetModeParam(key string, value float64)
	GetState() map[string]any
}
