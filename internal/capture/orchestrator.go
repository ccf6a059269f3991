// Package capture runs the order capture cycle: duplicate check, countdown,
// multi-camera capture and retakes.
//
// A single goroutine (Run) owns the cycle. Ingest paths hand identifiers in
// with Submit and operators request retakes with RetakeSlot/RetakeAll; both
// only enqueue work, so at most one session is ever in progress.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/packcam/internal/events"
	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/order"
	"github.com/banshee-data/packcam/internal/timeutil"
)

var (
	// ErrBusy is returned when a session is in progress and the queue is full.
	ErrBusy = errors.New("capture in progress")
	// ErrClosed is returned after Run has exited.
	ErrClosed = errors.New("orchestrator closed")
	// ErrNoSession is returned by retakes when no session is being previewed.
	ErrNoSession = errors.New("no current order")
	// ErrNoCameras is returned by retakes when the rig has no slots.
	ErrNoCameras = errors.New("no cameras available")
	// ErrUnknownSlot is returned by RetakeSlot for a slot the rig lacks.
	ErrUnknownSlot = errors.New("unknown camera slot")
)

// DefaultCountdown is the number of one-second countdown ticks.
const DefaultCountdown = 3

// Evidence is the subset of the evidence store the orchestrator uses.
type Evidence interface {
	HasEvidence(id order.ID) bool
	EnsureFolder(id order.ID) (string, error)
}

// Cameras is the subset of the camera rig the orchestrator uses.
type Cameras interface {
	Slots() []int
	Trigger(ctx context.Context, slot int) error
	CaptureAndSave(ctx context.Context, folder string, slot int) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	// Countdown is the number of seconds counted down before capture.
	// Negative values select DefaultCountdown.
	Countdown int
	// QueueDepth is how many identifiers may wait while a session runs.
	// Zero drops identifiers that arrive during a session.
	QueueDepth int
	Clock      timeutil.Clock
}

type jobKind int

const (
	jobOrder jobKind = iota
	jobRetakeSlot
	jobRetakeAll
)

type job struct {
	kind jobKind
	id   order.ID
	slot int
}

// Orchestrator is the capture state machine.
type Orchestrator struct {
	evidence  Evidence
	cameras   Cameras
	pub       events.Publisher
	clock     timeutil.Clock
	countdown int
	depth     int
	stats     *Stats

	wake chan struct{}

	mu      sync.Mutex
	state   State
	current *Session
	queue   []job
	busy    bool
	closed  bool
}

// New returns an orchestrator. Call Run to start processing.
func New(ev Evidence, cams Cameras, pub events.Publisher, opts Options) *Orchestrator {
	if pub == nil {
		pub = events.Discard
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Countdown < 0 {
		opts.Countdown = DefaultCountdown
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	return &Orchestrator{
		evidence:  ev,
		cameras:   cams,
		pub:       pub,
		clock:     opts.Clock,
		countdown: opts.Countdown,
		depth:     opts.QueueDepth,
		stats:     newStats(),
		wake:      make(chan struct{}, 1),
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Current returns a copy of the retakeable session, or nil.
func (o *Orchestrator) Current() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.clone()
}

// Busy reports whether work is queued or running. It stays true until the
// run loop finds the queue empty.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Stats returns the capture statistics.
func (o *Orchestrator) Stats() *Stats { return o.stats }

// Submit hands a validated identifier to the orchestrator. It never blocks.
// While a session runs, the identifier is queued if there is room and
// dropped with ErrBusy otherwise.
func (o *Orchestrator) Submit(id order.ID) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.busy && len(o.queue) >= o.depth {
		o.mu.Unlock()
		o.stats.incBusy()
		monitoring.Logf("capture: busy, dropping order %s", id)
		o.step(events.ProcessStep{Step: events.StepBusy, Status: events.StatusWarning, OrderNo: id.String()})
		return ErrBusy
	}
	o.queue = append(o.queue, job{kind: jobOrder, id: id})
	o.busy = true
	o.mu.Unlock()
	o.signal()
	return nil
}

// RetakeSlot re-captures one slot of the current session.
func (o *Orchestrator) RetakeSlot(slot int) error {
	return o.retake(job{kind: jobRetakeSlot, slot: slot})
}

// RetakeAll re-captures every slot of the current session.
func (o *Orchestrator) RetakeAll() error {
	return o.retake(job{kind: jobRetakeAll})
}

func (o *Orchestrator) retake(j job) error {
	slots := o.cameras.Slots()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.current == nil || o.state != Previewing {
		o.mu.Unlock()
		monitoring.Logf("capture: retake ignored, no current order")
		o.step(events.ProcessStep{Step: events.StepNoOrder, Status: events.StatusWarning, Message: ErrNoSession.Error()})
		return ErrNoSession
	}
	if len(slots) == 0 {
		o.mu.Unlock()
		monitoring.Logf("capture: retake ignored, no cameras available")
		o.step(events.ProcessStep{Step: events.StepNoCameras, Status: events.StatusWarning, Message: ErrNoCameras.Error()})
		return ErrNoCameras
	}
	if j.kind == jobRetakeSlot && !containsSlot(slots, j.slot) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownSlot, j.slot)
	}
	o.queue = append(o.queue, j)
	o.busy = true
	o.mu.Unlock()
	o.signal()
	return nil
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run processes queued work until ctx is cancelled. Cancellation is observed
// between jobs; a session in progress always runs to completion.
func (o *Orchestrator) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case <-o.wake:
		}
		for {
			if ctx.Err() != nil {
				o.shutdown()
				return ctx.Err()
			}
			j, ok := o.next()
			if !ok {
				break
			}
			o.execute(work, j)
		}
	}
}

func (o *Orchestrator) next() (job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		o.busy = false
		return job{}, false
	}
	j := o.queue[0]
	o.queue = o.queue[1:]
	return j, true
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := len(o.queue); n > 0 {
		monitoring.Logf("capture: shutting down with %d queued job(s) dropped", n)
	}
	o.closed = true
	o.queue = nil
	o.busy = false
}

func (o *Orchestrator) execute(ctx context.Context, j job) {
	switch j.kind {
	case jobOrder:
		o.runOrder(ctx, j.id)
	case jobRetakeSlot:
		o.runRetake(ctx, []int{j.slot}, false)
	case jobRetakeAll:
		o.runRetake(ctx, o.cameras.Slots(), true)
	}
}

func (o *Orchestrator) runOrder(ctx context.Context, id order.ID) {
	if o.evidence.HasEvidence(id) {
		o.stats.incDuplicates()
		monitoring.Logf("capture: order %s already captured, skipping", id)
		o.step(events.ProcessStep{Step: events.StepDuplicate, Status: events.StatusWarning, OrderNo: id.String()})
		return
	}

	o.mu.Lock()
	prevState, prevSession := o.state, o.current
	o.state = OrderDetected
	o.mu.Unlock()
	o.step(events.ProcessStep{Step: events.StepNewOrder, Status: events.StatusProcessing, OrderNo: id.String()})

	folder, err := o.evidence.EnsureFolder(id)
	if err != nil {
		monitoring.Logf("capture: order %s: %v", id, err)
		o.step(events.ProcessStep{Step: events.StepNewOrder, Status: events.StatusFailed, OrderNo: id.String(), Message: err.Error()})
		o.mu.Lock()
		o.state, o.current = prevState, prevSession
		o.mu.Unlock()
		return
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Order:     id,
		Folder:    folder,
		StartedAt: o.clock.Now(),
		Slots:     make(map[int]SlotResult),
	}
	o.stats.incSessions()
	monitoring.Logf("capture: session %s started for order %s", sess.ID, id)

	o.setState(Countdown)
	for n := o.countdown; n > 0; n-- {
		o.publish(events.KindCountdown, events.Countdown{OrderNo: id.String(), Remaining: n})
		<-o.clock.After(time.Second)
	}
	o.publish(events.KindCountdown, events.Countdown{OrderNo: id.String(), Remaining: 0})

	o.setState(Capturing)
	for _, slot := range o.cameras.Slots() {
		sess.Slots[slot] = o.captureSlot(ctx, events.StepCapture, id, folder, slot)
	}

	paths := sess.Paths()
	failed := sess.FailedSlots()
	o.step(events.ProcessStep{Step: events.StepSave, Status: saveStatus(paths, failed), OrderNo: id.String(), Path: folder})
	o.publish(events.KindCapturedImages, events.CapturedImages{OrderNo: id.String(), Paths: paths, FailedSlots: failed})
	o.publish(events.KindJobComplete, events.JobComplete{
		OrderNo:   id.String(),
		SessionID: sess.ID,
		Captured:  len(paths),
		Expected:  len(sess.Slots),
	})
	monitoring.Logf("capture: order %s captured %d/%d image(s)", id, len(paths), len(sess.Slots))

	o.mu.Lock()
	o.current = sess
	o.state = Previewing
	o.mu.Unlock()
}

func (o *Orchestrator) runRetake(ctx context.Context, slots []int, all bool) {
	o.mu.Lock()
	sess := o.current
	o.state = Retaking
	o.mu.Unlock()
	defer o.setState(Previewing)

	o.stats.incRetakes()
	folder, err := o.evidence.EnsureFolder(sess.Order)
	if err != nil {
		monitoring.Logf("capture: retake %s: %v", sess.Order, err)
		o.step(events.ProcessStep{Step: events.StepRetake, Status: events.StatusFailed, OrderNo: sess.Order.String(), Message: err.Error()})
		return
	}

	results := make(map[int]SlotResult, len(slots))
	for _, slot := range slots {
		results[slot] = o.captureSlot(ctx, events.StepRetake, sess.Order, folder, slot)
	}

	o.mu.Lock()
	for slot, r := range results {
		if r.Error != "" && r.Path == "" {
			// ReplaceSlotImage was never reached, the earlier file is still current.
			r.Path = sess.Slots[slot].Path
		}
		sess.Slots[slot] = r
	}
	snapshot := sess.clone()
	o.mu.Unlock()

	if all {
		o.publish(events.KindCapturedImages, events.CapturedImages{
			OrderNo:     sess.Order.String(),
			Paths:       snapshot.Paths(),
			FailedSlots: snapshot.FailedSlots(),
			Retake:      true,
		})
	}
}

// captureSlot triggers and saves one slot, publishing the outcome under step.
func (o *Orchestrator) captureSlot(ctx context.Context, step string, id order.ID, folder string, slot int) SlotResult {
	start := o.clock.Now()
	path, err := o.triggerAndSave(ctx, folder, slot)
	res := SlotResult{Path: path, At: o.clock.Now()}
	o.stats.recordCapture(slot, err == nil, res.At.Sub(start))

	if err != nil {
		res.Error = err.Error()
		monitoring.Logf("capture: order %s cam%d: %v", id, slot, err)
		o.step(events.ProcessStep{Step: step, Status: events.StatusFailed, OrderNo: id.String(), Slot: slot, Message: err.Error()})
		return res
	}
	o.step(events.ProcessStep{Step: step, Status: events.StatusSuccess, OrderNo: id.String(), Slot: slot, Path: path})
	return res
}

func (o *Orchestrator) triggerAndSave(ctx context.Context, folder string, slot int) (string, error) {
	if err := o.cameras.Trigger(ctx, slot); err != nil {
		return "", err
	}
	return o.cameras.CaptureAndSave(ctx, folder, slot)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) step(p events.ProcessStep) {
	o.publish(events.KindProcessStep, p)
}

func (o *Orchestrator) publish(kind events.Kind, data any) {
	o.pub.Publish(events.New(kind, data, o.clock.Now()))
}

func saveStatus(paths []string, failed []int) string {
	switch {
	case len(failed) == 0:
		return events.StatusSuccess
	case len(paths) == 0:
		return events.StatusFailed
	default:
		return events.StatusWarning
	}
}

func containsSlot(slots []int, slot int) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}
