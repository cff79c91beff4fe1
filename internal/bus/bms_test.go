package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths() BMSPaths {
	return BMSPaths{
		CellVoltageMin:   "min",
		CellVoltageMax:   "max",
		LimMax:           "lim_max",
		ExtMax:           "ext_max",
		LimMin:           "lim_min",
		ExtMin:           "ext_min",
		BalanceDelta:     "balance_delta",
		ChargedEnergy:    "chg_energy",
		DischargedEnergy: "dis_energy",
		Capacity:         "capacity",
		LossFactor:       "loss",
		TopOff:           "top_off",
	}
}

func TestBMS_CellVoltages_ReadsBothPaths(t *testing.T) {
	c := NewCache()
	c.ingest("min", []byte("3.30"))
	c.ingest("max", []byte("3.45"))
	b := NewBMS(c, testPaths())

	min, max, err := b.CellVoltages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.30, min)
	assert.Equal(t, 3.45, max)
}

func TestBMS_CellVoltages_ErrorsWhenAbsent(t *testing.T) {
	c := NewCache()
	b := NewBMS(c, testPaths())

	_, _, err := b.CellVoltages(context.Background())
	assert.Error(t, err)
}

func TestBMS_Limits_ReadsAllFiveFields(t *testing.T) {
	c := NewCache()
	c.ingest("lim_max", []byte("3.55"))
	c.ingest("ext_max", []byte("3.65"))
	c.ingest("lim_min", []byte("2.90"))
	c.ingest("ext_min", []byte("2.80"))
	c.ingest("balance_delta", []byte("0.01"))
	b := NewBMS(c, testPaths())

	lim, err := b.Limits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.55, lim.ULimMax)
	assert.Equal(t, 3.65, lim.UExtMax)
	assert.Equal(t, 2.90, lim.ULimMin)
	assert.Equal(t, 2.80, lim.UExtMin)
	assert.Equal(t, 0.01, lim.BalanceDelta)
}

func TestBMS_Work_ReportsDeltaSinceFirstPoll(t *testing.T) {
	c := NewCache()
	c.ingest("chg_energy", []byte("100"))
	c.ingest("dis_energy", []byte("40"))
	b := NewBMS(c, testPaths())

	chg, dis, err := b.Work(context.Background(), true, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, chg)
	assert.Equal(t, 0.0, dis)

	c.ingest("chg_energy", []byte("150"))
	c.ingest("dis_energy", []byte("55"))
	chg, dis, err = b.Work(context.Background(), true, false)
	require.NoError(t, err)
	assert.Equal(t, 50.0, chg)
	assert.Equal(t, 15.0, dis)
}

func TestBMS_Work_ClearRebasesTheAccumulator(t *testing.T) {
	c := NewCache()
	c.ingest("chg_energy", []byte("100"))
	c.ingest("dis_energy", []byte("40"))
	b := NewBMS(c, testPaths())

	_, _, err := b.Work(context.Background(), true, true)
	require.NoError(t, err)

	c.ingest("chg_energy", []byte("130"))
	c.ingest("dis_energy", []byte("48"))
	chg, dis, err := b.Work(context.Background(), true, false)
	require.NoError(t, err)
	assert.Equal(t, 30.0, chg)
	assert.Equal(t, 8.0, dis)
}

func TestBMS_Work_SkipsReadWhenNotPolling(t *testing.T) {
	c := NewCache()
	b := NewBMS(c, testPaths())

	chg, dis, err := b.Work(context.Background(), false, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, chg)
	assert.Equal(t, 0.0, dis)
}

func TestBMS_SetCapacity_WritesAllThreePaths(t *testing.T) {
	c := NewCache()
	b := NewBMS(c, testPaths())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.SetCapacity(ctx, 123.4, 0.05, true))

	select {
	case msg := <-c.outgoing:
		assert.Equal(t, "capacity", msg.topic)
		assert.Equal(t, 123.4, msg.value)
	default:
		t.Fatal("expected a queued write for capacity")
	}

	select {
	case msg := <-c.outgoing:
		assert.Equal(t, "loss", msg.topic)
		assert.Equal(t, 0.05, msg.value)
	default:
		t.Fatal("expected a queued write for the loss factor")
	}

	select {
	case msg := <-c.outgoing:
		assert.Equal(t, "top_off", msg.topic)
		assert.Equal(t, 1.0, msg.value)
	default:
		t.Fatal("expected a queued write for top_off")
	}
}
