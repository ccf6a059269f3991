package capture

import (
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/packcam/internal/order"
)

// State is the orchestrator's position in the capture cycle.
type State int

const (
	Idle State = iota
	OrderDetected
	Countdown
	Capturing
	Previewing
	Retaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OrderDetected:
		return "order_detected"
	case Countdown:
		return "countdown"
	case Capturing:
		return "capturing"
	case Previewing:
		return "previewing"
	case Retaking:
		return "retaking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// SlotResult is the outcome of the latest capture for one slot. Path is the
// slot's current image on disk and Error is set when the latest attempt
// failed. A failed retake keeps the earlier image, so both can be set.
type SlotResult struct {
	Path  string    `json:"path,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// OK reports whether the latest attempt for the slot succeeded.
func (r SlotResult) OK() bool { return r.Path != "" && r.Error == "" }

// Session is one capture of one order. Only the most recent session can be
// retaken.
type Session struct {
	ID        string             `json:"id"`
	Order     order.ID           `json:"order_no"`
	Folder    string             `json:"folder"`
	StartedAt time.Time          `json:"started_at"`
	Slots     map[int]SlotResult `json:"slots"`
}

// Paths returns the current image paths ordered by slot.
func (s *Session) Paths() []string {
	paths := []string{}
	for _, slot := range s.sortedSlots() {
		if r := s.Slots[slot]; r.Path != "" {
			paths = append(paths, r.Path)
		}
	}
	return paths
}

// FailedSlots returns the slots whose latest capture failed.
func (s *Session) FailedSlots() []int {
	var out []int
	for _, slot := range s.sortedSlots() {
		if !s.Slots[slot].OK() {
			out = append(out, slot)
		}
	}
	return out
}

func (s *Session) sortedSlots() []int {
	slots := make([]int, 0, len(s.Slots))
	for slot := range s.Slots {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Slots = make(map[int]SlotResult, len(s.Slots))
	for k, v := range s.Slots {
		c.Slots[k] = v
	}
	return &c
}
