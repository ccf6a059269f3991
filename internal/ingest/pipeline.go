package ingest

import (
	"errors"

	"github.com/banshee-data/packcam/internal/capture"
	"github.com/banshee-data/packcam/internal/events"
	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/order"
	"github.com/banshee-data/packcam/internal/timeutil"
)

// LineHandler receives each complete line of scanner text.
type LineHandler interface {
	HandleLine(line string)
}

// LineHandlerFunc adapts a function to LineHandler.
type LineHandlerFunc func(line string)

func (f LineHandlerFunc) HandleLine(line string) { f(line) }

// Submitter accepts validated identifiers.
type Submitter interface {
	Submit(id order.ID) error
}

// Pipeline validates scanner lines and submits accepted identifiers. It
// never blocks the read loop: Submit only enqueues.
type Pipeline struct {
	sub   Submitter
	pub   events.Publisher
	clock timeutil.Clock
}

// NewPipeline returns a pipeline that submits to sub and reports rejections
// to pub.
func NewPipeline(sub Submitter, pub events.Publisher, clock timeutil.Clock) *Pipeline {
	if pub == nil {
		pub = events.Discard
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipeline{sub: sub, pub: pub, clock: clock}
}

// HandleLine extracts an identifier from line. Lines without the order label
// are ignored; digit-only codes are logged and reported.
func (p *Pipeline) HandleLine(line string) {
	id, res := order.Extract(line)
	switch res {
	case order.NoMatch:
		return
	case order.RejectedDigitsOnly:
		monitoring.Logf("ingest: rejected digit-only order code %s", id)
		p.pub.Publish(events.New(events.KindProcessStep, events.ProcessStep{
			Step:    events.StepDigitsOnly,
			Status:  events.StatusWarning,
			OrderNo: id.String(),
			Message: "order code contains no letters",
		}, p.clock.Now()))
		return
	}

	monitoring.Logf("ingest: order %s detected", id)
	if err := p.sub.Submit(id); err != nil && !errors.Is(err, capture.ErrBusy) {
		monitoring.Logf("ingest: submit %s: %v", id, err)
	}
}
