package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemory_GetSetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, m.Set(ctx, "power", 1500))
	v, ok, err := m.Get(ctx, "power")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1500.0, v)
}
