package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rzpsarthak13/opqueue/internal/clock"
)

func TestBudgetMeterChargeAndRefill(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m := NewBudgetMeter(BudgetConfig{Capacity: 1000, RefillPerSecond: 100}, clk)

	assert.Equal(t, int64(1000), m.CyclesBalance())

	m.Charge(600)
	assert.Equal(t, int64(400), m.CyclesBalance())

	m.Charge(600)
	assert.Equal(t, int64(-200), m.CyclesBalance())

	clk.Advance(3 * time.Second)
	assert.Equal(t, int64(100), m.CyclesBalance())

	clk.Advance(time.Minute)
	assert.Equal(t, int64(1000), m.CyclesBalance(), "balance is capped")

	m.Charge(0)
	assert.Equal(t, int64(1000), m.CyclesBalance())
}

func TestBudgetMeterMemory(t *testing.T) {
	m := NewBudgetMeter(DefaultBudgetConfig(), clock.NewReal())
	assert.Positive(t, m.MemoryUsage())

	m.memory = func() int64 { return 42 }
	assert.Equal(t, int64(42), m.MemoryUsage())
}

func TestStatic(t *testing.T) {
	s := NewStatic(100, 5)
	s.Charge(30)
	assert.Equal(t, int64(70), s.CyclesBalance())
	s.SetCycles(1)
	s.SetMemory(9)
	assert.Equal(t, int64(1), s.CyclesBalance())
	assert.Equal(t, int64(9), s.MemoryUsage())
}
