// Package resource reports the cycles budget and memory usage that gate
// batch processing.
package resource

import (
	"runtime"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/opqueue/internal/clock"
)

// Meter reads and charges the resources a batch consumes.
type Meter interface {
	// CyclesBalance is the budget currently available.
	CyclesBalance() int64

	// MemoryUsage is the current memory footprint in bytes.
	MemoryUsage() int64

	// Charge deducts cycles from the budget. The balance may go negative.
	Charge(cycles int64)
}

// BudgetConfig configures a BudgetMeter.
type BudgetConfig struct {
	// Capacity is the largest balance the budget can hold.
	Capacity int64 `yaml:"capacity" json:"capacity" envconfig:"CAPACITY"`

	// RefillPerSecond is the rate at which spent cycles come back.
	RefillPerSecond float64 `yaml:"refill_per_second" json:"refill_per_second" envconfig:"REFILL_PER_SECOND"`
}

// DefaultBudgetConfig returns a 10e9 cycle budget refilled at 1e8 per second.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{Capacity: 10_000_000_000, RefillPerSecond: 100_000_000}
}

// BudgetMeter keeps the cycles budget in a token bucket and reads memory
// from the Go runtime.
type BudgetMeter struct {
	limiter *rate.Limiter
	clock   clock.Clock
	memory  func() int64
}

// NewBudgetMeter creates a meter whose budget starts full.
func NewBudgetMeter(cfg BudgetConfig, clk clock.Clock) *BudgetMeter {
	if cfg.Capacity <= 0 {
		cfg = DefaultBudgetConfig()
	}
	return &BudgetMeter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), int(cfg.Capacity)),
		clock:   clk,
		memory:  heapInUse,
	}
}

func (m *BudgetMeter) CyclesBalance() int64 {
	return int64(m.limiter.TokensAt(m.clock.Now()))
}

func (m *BudgetMeter) MemoryUsage() int64 {
	return m.memory()
}

func (m *BudgetMeter) Charge(cycles int64) {
	if cycles <= 0 {
		return
	}
	m.limiter.ReserveN(m.clock.Now(), int(min(cycles, int64(m.limiter.Burst()))))
}

func heapInUse() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapInuse)
}

// Static is a Meter with manually set readings.
type Static struct {
	mu     sync.Mutex
	cycles int64
	memory int64
}

// NewStatic returns a Static meter with the given readings.
func NewStatic(cycles, memory int64) *Static {
	return &Static{cycles: cycles, memory: memory}
}

func (s *Static) CyclesBalance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

func (s *Static) MemoryUsage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory
}

func (s *Static) Charge(cycles int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles -= cycles
}

// SetCycles overrides the cycles balance.
func (s *Static) SetCycles(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = n
}

// SetMemory overrides the memory reading.
func (s *Static) SetMemory(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = n
}
