// Package events defines the status messages fanned out to subscribers.
//
// Every message is a JSON object {"type", "data", "timestamp"} terminated by
// a newline on the wire. Events are observational only and never persisted.
package events

import (
	"encoding/json"
	"time"
)

// Kind tags an event.
type Kind string

const (
	KindSystemStatus   Kind = "system_status"
	KindLiveImage      Kind = "live_image"
	KindOCRResult      Kind = "ocr_result"
	KindProcessStep    Kind = "process_step"
	KindJobComplete    Kind = "job_complete"
	KindCapturedImages Kind = "capturedImages"
	KindCountdown      Kind = "countdown"
	KindLog            Kind = "log"
)

// Step names carried by process_step events.
const (
	StepNewOrder      = "new_order"
	StepDuplicate     = "duplicate"
	StepDigitsOnly    = "digits_only"
	StepBusy          = "busy"
	StepCapture       = "capture"
	StepRetake        = "retake"
	StepSave          = "save"
	StepNoOrder       = "no_order"
	StepNoCameras     = "no_cameras"
	StepLowConfidence = "low_confidence"
	StepInvalidID     = "invalid_id"
)

// Status values carried by process_step events.
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusWarning    = "warning"
	StatusFailed     = "failed"
)

// Event is one immutable status message.
type Event struct {
	Type      Kind      `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an event stamped with now.
func New(kind Kind, data any, now time.Time) Event {
	return Event{Type: kind, Data: data, Timestamp: now}
}

// MarshalJSON renders the timestamp as ISO-8601 with local offset.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      Kind   `json:"type"`
		Data      any    `json:"data"`
		Timestamp string `json:"timestamp"`
	}{e.Type, e.Data, e.Timestamp.Format(time.RFC3339Nano)})
}

// Encode serialises the event as a single newline-terminated line.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Publisher receives status events. Implementations must be safe for
// concurrent use and must never block the caller on a slow consumer.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// SystemStatus is the payload of system_status.
type SystemStatus struct {
	Status   string `json:"status"`
	Cameras  int    `json:"cameras"`
	Upstream bool   `json:"upstream_connected"`
	Version  string `json:"version,omitempty"`
}

// LiveImage is the payload of live_image; Image is base64 JPEG.
type LiveImage struct {
	Image string `json:"image"`
}

// OCRResult is the payload of ocr_result.
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsValid    bool    `json:"is_valid"`
}

// ProcessStep is the payload of process_step.
type ProcessStep struct {
	Step    string `json:"step"`
	Status  string `json:"status,omitempty"`
	OrderNo string `json:"order_no,omitempty"`
	Slot    int    `json:"slot,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

// JobComplete is the payload of job_complete.
type JobComplete struct {
	OrderNo   string `json:"order_no"`
	SessionID string `json:"session_id"`
	Captured  int    `json:"captured"`
	Expected  int    `json:"expected"`
}

// CapturedImages is the payload of capturedImages. Paths lists only the
// slots that produced a file; FailedSlots lists the rest.
type CapturedImages struct {
	OrderNo     string   `json:"order_no"`
	Paths       []string `json:"paths"`
	FailedSlots []int    `json:"failed_slots,omitempty"`
	Retake      bool     `json:"retake,omitempty"`
}

// Countdown is the payload of countdown.
type Countdown struct {
	OrderNo   string `json:"order_no"`
	Remaining int    `json:"remaining"`
}

// Log is the payload of log.
type Log struct {
	Message string `json:"message"`
}
