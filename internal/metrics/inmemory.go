package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Claims               map[string]uint64
	ClaimDurationCount   uint64
	ClaimDurationTotalNs int64
	Resolutions          map[string]uint64
	MintRateLimited      uint64
	Logins               map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu          sync.Mutex
	claims      map[string]uint64
	resolutions map[string]uint64
	logins      map[string]uint64

	claimDurationCount   uint64
	claimDurationTotalNs int64
	mintRateLimited      uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		claims:      make(map[string]uint64),
		resolutions: make(map[string]uint64),
		logins:      make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Claims:               copyCounts(m.claims),
		ClaimDurationCount:   atomic.LoadUint64(&m.claimDurationCount),
		ClaimDurationTotalNs: atomic.LoadInt64(&m.claimDurationTotalNs),
		Resolutions:          copyCounts(m.resolutions),
		MintRateLimited:      atomic.LoadUint64(&m.mintRateLimited),
		Logins:               copyCounts(m.logins),
	}
}

// IncClaim increments the counter for a claim outcome.
func (m *InMemoryRecorder) IncClaim(outcome string) {
	m.mu.Lock()
	m.claims[outcome]++
	m.mu.Unlock()
}

// ObserveClaimDuration records claim duration.
func (m *InMemoryRecorder) ObserveClaimDuration(duration time.Duration) {
	atomic.AddUint64(&m.claimDurationCount, 1)
	atomic.AddInt64(&m.claimDurationTotalNs, duration.Nanoseconds())
}

// IncResolution increments the counter for a name resolution result.
func (m *InMemoryRecorder) IncResolution(result string) {
	m.mu.Lock()
	m.resolutions[result]++
	m.mu.Unlock()
}

// IncMintRateLimited increments the rate-limited counter.
func (m *InMemoryRecorder) IncMintRateLimited() {
	atomic.AddUint64(&m.mintRateLimited, 1)
}

// IncLogin increments the login counter.
func (m *InMemoryRecorder) IncLogin(status string) {
	m.mu.Lock()
	m.logins[status]++
	m.mu.Unlock()
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
