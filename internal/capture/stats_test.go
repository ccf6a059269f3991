package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_Summary(t *testing.T) {
	s := newStats()
	for _, ms := range []int{100, 200, 300, 400} {
		s.recordCapture(1, true, time.Duration(ms)*time.Millisecond)
	}
	s.recordCapture(1, false, 0)
	s.recordCapture(3, false, 0)
	s.incSessions()
	s.incDuplicates()

	sum := s.Summary()
	assert.Equal(t, 1, sum.Sessions)
	assert.Equal(t, 1, sum.Duplicates)
	require.Len(t, sum.Slots, 2)

	one := sum.Slots[0]
	assert.Equal(t, 1, one.Slot)
	assert.Equal(t, 4, one.Successes)
	assert.Equal(t, 1, one.Failures)
	assert.InDelta(t, 250, one.MeanMs, 1e-9)
	assert.InDelta(t, 129.099, one.StdDevMs, 1e-3)
	assert.InDelta(t, 400, one.P95Ms, 1e-9)

	three := sum.Slots[1]
	assert.Equal(t, 3, three.Slot)
	assert.Zero(t, three.Successes)
	assert.Zero(t, three.MeanMs)
}

func TestStats_SingleSampleHasNoSpread(t *testing.T) {
	s := newStats()
	s.recordCapture(2, true, 50*time.Millisecond)
	sum := s.Summary()
	require.Len(t, sum.Slots, 1)
	assert.InDelta(t, 50, sum.Slots[0].MeanMs, 1e-9)
	assert.Zero(t, sum.Slots[0].StdDevMs)
}

func TestStats_LatencyWindowBounded(t *testing.T) {
	s := newStats()
	for i := 0; i < maxLatencySamples+10; i++ {
		s.recordCapture(1, true, time.Millisecond)
	}
	assert.Len(t, s.slots[1].latencies, maxLatencySamples)
	assert.Equal(t, maxLatencySamples+10, s.Summary().Slots[0].Successes)
}

func TestSession_PathsAndFailures(t *testing.T) {
	sess := &Session{Slots: map[int]SlotResult{
		3: {Path: "/e/cam3.jpg"},
		1: {Path: "/e/cam1.jpg"},
		2: {Error: "timeout"},
		4: {Path: "/e/cam4.jpg", Error: "retake failed"},
	}}
	assert.Equal(t, []string{"/e/cam1.jpg", "/e/cam3.jpg", "/e/cam4.jpg"}, sess.Paths())
	assert.Equal(t, []int{2, 4}, sess.FailedSlots())

	c := sess.clone()
	c.Slots[2] = SlotResult{Path: "/e/cam2.jpg"}
	assert.Equal(t, []int{2, 4}, sess.FailedSlots(), "clone must not alias slots")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "previewing", Previewing.String())
	b, err := Retaking.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "retaking", string(b))
}
