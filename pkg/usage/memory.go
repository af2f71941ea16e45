package usage

import (
	"context"
	"sync"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/config"
)

// MemoryMeter keeps counters in process. It suits tests and single-node
// development setups.
type MemoryMeter struct {
	mu     sync.Mutex
	counts map[string]int64
	limits LimitSource
	now    func() time.Time
}

// NewMemoryMeter creates an in-process meter.
func NewMemoryMeter(limits LimitSource, now func() time.Time) *MemoryMeter {
	if now == nil {
		now = time.Now
	}

	return &MemoryMeter{counts: map[string]int64{}, limits: limits, now: now}
}

func (m *MemoryMeter) CheckAndIncrementExecutionUsage(_ context.Context, orgID, _ string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := PeriodKey(orgID, m.now())
	limit := m.limits.ExecutionLimit(orgID)
	current := m.counts[key]

	if limit != config.Unlimited && current >= limit {
		return newUsage(false, current, limit), nil
	}

	current++
	m.counts[key] = current

	return newUsage(true, current, limit), nil
}

func (m *MemoryMeter) ReleaseExecutionUsage(_ context.Context, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := PeriodKey(orgID, m.now())
	if m.counts[key] > 0 {
		m.counts[key]--
	}

	return nil
}

// Current returns the counter of orgID for the current period.
func (m *MemoryMeter) Current(orgID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.counts[PeriodKey(orgID, m.now())]
}
