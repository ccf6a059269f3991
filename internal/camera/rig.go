// Package camera binds capture devices to evidence slots.
//
// The orchestrator only sees the Rig: it triggers a slot and asks it to
// capture and save. Device specifics (simulated frames, IP snapshot
// endpoints) live behind the Device interface.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds every device call.
const DefaultTimeout = 3000 * time.Millisecond

// ErrUnknownSlot is returned for slots that have no bound device.
var ErrUnknownSlot = errors.New("unknown camera slot")

// Device is a single camera.
type Device interface {
	// Trigger fires the software shutter.
	Trigger(ctx context.Context) error
	// Capture returns the most recent frame as JPEG bytes.
	Capture(ctx context.Context) ([]byte, error)
}

// ImageWriter persists one slot image into an order folder.
type ImageWriter interface {
	ReplaceSlotImage(folder string, slot int, data []byte) (string, error)
}

// Rig is an ordered set of slots, numbered from 1, each bound to a Device.
type Rig struct {
	mu      sync.RWMutex
	devices map[int]Device
	writer  ImageWriter
	timeout time.Duration
}

// NewRig returns an empty rig writing through w. A non-positive timeout
// selects DefaultTimeout.
func NewRig(w ImageWriter, timeout time.Duration) *Rig {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Rig{devices: make(map[int]Device), writer: w, timeout: timeout}
}

// Bind attaches d to slot, replacing any previous device.
func (r *Rig) Bind(slot int, d Device) error {
	if slot < 1 {
		return fmt.Errorf("camera slot %d: slots are numbered from 1", slot)
	}
	if d == nil {
		return fmt.Errorf("camera slot %d: nil device", slot)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[slot] = d
	return nil
}

// Slots returns the bound slot numbers in ascending order.
func (r *Rig) Slots() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.devices))
	for s := range r.devices {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// Len returns the number of bound slots.
func (r *Rig) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Timeout returns the per-call device timeout.
func (r *Rig) Timeout() time.Duration { return r.timeout }

// Trigger fires the shutter of slot within the device timeout.
func (r *Rig) Trigger(ctx context.Context, slot int) error {
	d, err := r.device(slot)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := d.Trigger(ctx); err != nil {
		return fmt.Errorf("trigger cam%d: %w", slot, err)
	}
	return nil
}

// CaptureAndSave grabs a frame from slot within the device timeout and writes
// it as the slot's image in folder, replacing any previous one.
func (r *Rig) CaptureAndSave(ctx context.Context, folder string, slot int) (string, error) {
	d, err := r.device(slot)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	data, err := d.Capture(ctx)
	cancel()
	if err != nil {
		return "", fmt.Errorf("capture cam%d: %w", slot, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("capture cam%d: empty frame", slot)
	}
	path, err := r.writer.ReplaceSlotImage(folder, slot, data)
	if err != nil {
		return "", fmt.Errorf("save cam%d: %w", slot, err)
	}
	return path, nil
}

func (r *Rig) device(slot int) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	return d, nil
}
