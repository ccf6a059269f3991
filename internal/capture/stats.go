package capture

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// maxLatencySamples bounds the latency window kept per slot.
const maxLatencySamples = 512

// SlotStats summarises captures for one slot.
type SlotStats struct {
	Slot      int     `json:"slot"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
	MeanMs    float64 `json:"mean_ms"`
	StdDevMs  float64 `json:"stddev_ms"`
	P95Ms     float64 `json:"p95_ms"`
}

// Summary is a point-in-time view of capture statistics.
type Summary struct {
	Sessions   int         `json:"sessions"`
	Duplicates int         `json:"duplicates"`
	Busy       int         `json:"busy"`
	Retakes    int         `json:"retakes"`
	Slots      []SlotStats `json:"slots"`
}

// Stats accumulates per-slot capture counters and latencies in memory.
type Stats struct {
	mu         sync.Mutex
	sessions   int
	duplicates int
	busy       int
	retakes    int
	slots      map[int]*slotAcc
}

type slotAcc struct {
	successes int
	failures  int
	latencies []float64
}

func newStats() *Stats {
	return &Stats{slots: make(map[int]*slotAcc)}
}

func (s *Stats) slot(n int) *slotAcc {
	acc, ok := s.slots[n]
	if !ok {
		acc = &slotAcc{}
		s.slots[n] = acc
	}
	return acc
}

func (s *Stats) recordCapture(slot int, ok bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.slot(slot)
	if !ok {
		acc.failures++
		return
	}
	acc.successes++
	acc.latencies = append(acc.latencies, float64(latency)/float64(time.Millisecond))
	if len(acc.latencies) > maxLatencySamples {
		acc.latencies = acc.latencies[len(acc.latencies)-maxLatencySamples:]
	}
}

func (s *Stats) incSessions()   { s.mu.Lock(); s.sessions++; s.mu.Unlock() }
func (s *Stats) incDuplicates() { s.mu.Lock(); s.duplicates++; s.mu.Unlock() }
func (s *Stats) incBusy()       { s.mu.Lock(); s.busy++; s.mu.Unlock() }
func (s *Stats) incRetakes()    { s.mu.Lock(); s.retakes++; s.mu.Unlock() }

// Summary computes the current summary.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{
		Sessions:   s.sessions,
		Duplicates: s.duplicates,
		Busy:       s.busy,
		Retakes:    s.retakes,
		Slots:      make([]SlotStats, 0, len(s.slots)),
	}
	for n, acc := range s.slots {
		ss := SlotStats{Slot: n, Successes: acc.successes, Failures: acc.failures}
		if len(acc.latencies) > 0 {
			sorted := append([]float64(nil), acc.latencies...)
			sort.Float64s(sorted)
			ss.MeanMs = stat.Mean(sorted, nil)
			ss.P95Ms = stat.Quantile(0.95, stat.Empirical, sorted, nil)
			if len(sorted) > 1 {
				ss.StdDevMs = stat.StdDev(sorted, nil)
			}
		}
		out.Slots = append(out.Slots, ss)
	}
	sort.Slice(out.Slots, func(i, j int) bool { return out.Slots[i].Slot < out.Slots[j].Slot })
	return out
}
