package govern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sum(a []float64) float64 {
	var s float64
	for _, v := range a {
		s += v
	}
	return s
}

func TestBalance_Empty(t *testing.T) {
	assert.Nil(t, Balance(nil, nil, nil))
}

func TestBalance_AllPositiveNoClamp(t *testing.T) {
	out := Balance([]float64{10, 20, 30}, nil, nil)
	assert.Equal(t, []float64{10, 20, 30}, out)
}

func TestBalance_MixedSignsAbsorbed(t *testing.T) {
	// Negative side (5) smaller than positive side (15); it's absorbed
	// proportionally into the positive entries, no mixed signs remain.
	out := Balance([]float64{10, 5, -5}, nil, nil)
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
	}
	assert.InDelta(t, sum([]float64{10, 5, -5}), sum(out), 1e-9)
}

func TestBalance_SumPreservedWithoutClamp(t *testing.T) {
	in := []float64{100, -20, 30, -5}
	out := Balance(in, nil, nil)
	assert.InDelta(t, sum(in), sum(out), 1e-9)
}

func TestBalance_Idempotent(t *testing.T) {
	in := []float64{100, -20, 30, -5}
	min := []float64{-50, -50, -50, -50}
	max := []float64{50, 50, 50, 50}
	once := Balance(in, min, max)
	twice := Balance(once, min, max)
	for i := range once {
		assert.InDelta(t, once[i], twice[i], 1e-9)
	}
}

func TestBalance_ClampRedistributesOverflow(t *testing.T) {
	in := []float64{90, 10}
	max := []float64{40, 40}
	out := Balance(in, nil, max)
	assert.LessOrEqual(t, out[0], 40.0)
	assert.LessOrEqual(t, out[1], 40.0)
	// Total demand (100) exceeds total headroom (80); both entries saturate.
	assert.InDelta(t, 40.0, out[0], 1e-9)
	assert.InDelta(t, 40.0, out[1], 1e-9)
}

func TestBalance_SymmetricScalarMinMax(t *testing.T) {
	out := Balance([]float64{100}, []float64{-50}, []float64{50})
	assert.InDelta(t, 50.0, out[0], 1e-9)
}
