// Package testutil provides shared test fixtures: an event recorder, an
// in-memory evidence store and a rig of simulated cameras.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/packcam/internal/camera"
	"github.com/banshee-data/packcam/internal/events"
	"github.com/banshee-data/packcam/internal/evidence"
	"github.com/banshee-data/packcam/internal/fsutil"
	"github.com/banshee-data/packcam/internal/timeutil"
)

// EvidenceRoot is the root used by NewEvidence.
const EvidenceRoot = "/evidence"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Serve runs one request through h and returns the recorded response.
func Serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

// EventRecorder is an events.Publisher that keeps everything it is given.
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *EventRecorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Kinds returns the recorded event types in order.
func (r *EventRecorder) Kinds() []events.Kind {
	var out []events.Kind
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}

// Steps returns the recorded process_step payloads named step.
func (r *EventRecorder) Steps(step string) []events.ProcessStep {
	var out []events.ProcessStep
	for _, e := range r.Events() {
		if p, ok := e.Data.(events.ProcessStep); ok && p.Step == step {
			out = append(out, p)
		}
	}
	return out
}

// Evidence bundles an in-memory evidence store with its filesystem and clock.
type Evidence struct {
	FS    *fsutil.MemoryFileSystem
	Clock *timeutil.MockClock
	Store *evidence.Store
}

// NewEvidence returns a store rooted at EvidenceRoot on a memory filesystem,
// with a mock clock set to at.
func NewEvidence(t *testing.T, at time.Time) *Evidence {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	if err := fs.MkdirAll(EvidenceRoot, 0o755); err != nil {
		t.Fatalf("create evidence root: %v", err)
	}
	clock := timeutil.NewMockClock(at)
	return &Evidence{FS: fs, Clock: clock, Store: evidence.NewStore(EvidenceRoot, fs, clock)}
}

// NewSimulatedRig binds simulated devices to slots 1..n.
func NewSimulatedRig(t *testing.T, w camera.ImageWriter, clock timeutil.Clock, n int, timeout time.Duration) (*camera.Rig, map[int]*camera.SimulatedDevice) {
	t.Helper()
	rig := camera.NewRig(w, timeout)
	devices := make(map[int]*camera.SimulatedDevice, n)
	for s := 1; s <= n; s++ {
		d := camera.NewSimulatedDevice(s, clock)
		if err := rig.Bind(s, d); err != nil {
			t.Fatalf("bind slot %d: %v", s, err)
		}
		devices[s] = d
	}
	return rig, devices
}
