package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moat-inv/invctl/internal/bus"
	"github.com/moat-inv/invctl/internal/control"
	"github.com/moat-inv/invctl/internal/modes"
)

type fakeSignals struct {
	mu     sync.Mutex
	values map[string]bus.Signal
	writes []float64
}

func newFakeSignals() *fakeSignals {
	return &fakeSignals{values: map[string]bus.Signal{}}
}

func (f *fakeSignals) Get(path string) (bus.Signal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.values[path]
	return s, ok
}

func (f *fakeSignals) Write(ctx context.Context, path string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[path] = bus.Signal{Value: value, Present: true}
	f.writes = append(f.writes, value)
	return nil
}

type stubBMS struct{}

func (stubBMS) CellVoltages(ctx context.Context) (float64, float64, error)  { return 3.3, 3.4, nil }
func (stubBMS) Limits(ctx context.Context) (modes.Limits, error)           { return modes.Limits{}, nil }
func (stubBMS) Work(ctx context.Context, poll, clear bool) (float64, float64, error) {
	return 0, 0, nil
}
func (stubBMS) SetCapacity(ctx context.Context, dis, loss float64, top bool) error { return nil }

func newTestRunner(startMode string) (*Runner, context.Context, context.CancelFunc) {
	cfg := control.DefaultConfig()
	cfg.NumPhases = 2
	cfg.ModesDefault = startMode

	paths := Paths{
		Load:    []string{"/load/0", "/load/1"},
		PCrit:   []string{"/crit/0", "/crit/1"},
		InvSet:  []string{"/inv/set/0", "/inv/set/1"},
		ActualP: []string{"/inv/actual/0", "/inv/actual/1"},
	}

	eng := control.NewEngine(cfg, nil)
	r := NewRunner(newFakeSignals(), eng, cfg, paths, stubBMS{})
	ctx, cancel := context.WithCancel(context.Background())
	return r, ctx, cancel
}

func TestRunner_StartLaunchesConfiguredMode(t *testing.T) {
	r, ctx, cancel := newTestRunner("off")
	defer cancel()

	require.NoError(t, r.Start(ctx))
	assert.Equal(t, "off", r.GetState()["mode"])
}

func TestRunner_SetMode_RejectsWithinSettleWindow(t *testing.T) {
	r, ctx, cancel := newTestRunner("off")
	defer cancel()
	require.NoError(t, r.Start(ctx))

	err := r.SetMode(ctx, "idle", nil)
	assert.ErrorIs(t, err, ErrTooEarly)
}

func TestRunner_ChangeMode_BypassesSettleWindow(t *testing.T) {
	r, ctx, cancel := newTestRunner("off")
	defer cancel()
	require.NoError(t, r.Start(ctx))

	err := r.ChangeMode(ctx, "idle", nil)
	require.NoError(t, err)
	assert.Equal(t, "idle", r.GetState()["mode"])
}

func TestRunner_ChangeMode_UnknownModeErrors(t *testing.T) {
	r, ctx, cancel := newTestRunner("off")
	defer cancel()
	require.NoError(t, r.Start(ctx))

	err := r.ChangeMode(ctx, "not_a_mode", nil)
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestRunner_ChangeMode_MergesConfiguredDefaults(t *testing.T) {
	r, ctx, cancel := newTestRunner("off")
	defer cancel()
	r.cfg.ModeDefaults = map[string]map[string]float64{"idle": {"power": 250}}
	require.NoError(t, r.Start(ctx))

	require.NoError(t, r.ChangeMode(ctx, "idle", nil))

	time.Sleep(10 * time.Millisecond)
	state := r.GetState()
	op, ok := state["op"].(map[string]float64)
	require.True(t, ok)
	assert.Equal(t, 250.0, op["power"])
}

func TestRunner_SetInvPs_WritesNegatedSign(t *testing.T) {
	r, ctx, cancel := newTestRunner("off")
	defer cancel()

	sig := r.cache.(*fakeSignals)
	err := r.SetInvPs(ctx, []float64{100, -50})
	require.NoError(t, err)

	sig.mu.Lock()
	defer sig.mu.Unlock()
	assert.Equal(t, -100.0, sig.values["/inv/set/0"].Value)
	assert.Equal(t, 50.0, sig.values["/inv/set/1"].Value)
}

func TestRunner_GetModes_ListsEightRegisteredModes(t *testing.T) {
	r, ctx, cancel := newTestRunner("off")
	defer cancel()
	require.NoError(t, r.Start(ctx))
	assert.Len(t, r.GetModes(), 8)
}
