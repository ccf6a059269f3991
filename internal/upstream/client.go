// Package upstream connects to a smart scanner that pushes preview frames
// and recognised order text, and keeps that connection alive.
//
// The scanner sends JSON packets separated by a blank line ("\n\n"):
//
//	{"type":"image","data":"<base64 jpeg>"}
//	{"type":"ocr","data":"SPX1234567890","confidence":0.95}
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/packcam/internal/capture"
	"github.com/banshee-data/packcam/internal/events"
	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/order"
	"github.com/banshee-data/packcam/internal/timeutil"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultBackoff     = 3 * time.Second
	DefaultThreshold   = 0.85

	readSize = 4096
	// maxPending bounds buffered bytes without a frame delimiter.
	maxPending = 16 << 20
)

var frameDelim = []byte("\n\n")

// Packet is one frame from the scanner.
type Packet struct {
	Type       string  `json:"type"`
	Data       string  `json:"data"`
	Confidence float64 `json:"confidence"`
}

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Submitter accepts validated identifiers.
type Submitter interface {
	Submit(id order.ID) error
}

// Config configures a Client.
type Config struct {
	Address     string
	Dialer      Dialer
	DialTimeout time.Duration
	Backoff     time.Duration
	// Threshold is the minimum OCR confidence for an identifier to be
	// submitted.
	Threshold float64
	Submitter Submitter
	Publisher events.Publisher
	Clock     timeutil.Clock
}

// Client is the reconnecting scanner connection.
type Client struct {
	cfg       Config
	connected atomic.Bool
}

// NewClient applies defaults to cfg and returns a client.
func NewClient(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Discard
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Client{cfg: cfg}
}

// Connected reports whether a scanner connection is currently open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run connects, reads and reconnects until ctx is cancelled. It only returns
// ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			monitoring.Logf("upstream: %s: %v; retrying in %s", c.cfg.Address, err, c.cfg.Backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.cfg.Clock.After(c.cfg.Backoff):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.cfg.Dialer.DialContext(dialCtx, "tcp", c.cfg.Address)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.connected.Store(true)
	defer c.connected.Store(false)
	monitoring.Logf("upstream: connected to %s", c.cfg.Address)

	var pending []byte
	buf := make([]byte, readSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = c.drain(pending)
			if len(pending) > maxPending {
				monitoring.Logf("upstream: discarding %d bytes without a frame delimiter", len(pending))
				pending = pending[:0]
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// drain handles every complete frame in pending and returns the remainder.
func (c *Client) drain(pending []byte) []byte {
	for {
		i := bytes.Index(pending, frameDelim)
		if i < 0 {
			return pending
		}
		frame := bytes.TrimSpace(pending[:i])
		pending = pending[i+len(frameDelim):]
		if len(frame) == 0 {
			continue
		}
		var p Packet
		if err := json.Unmarshal(frame, &p); err != nil {
			monitoring.Logf("upstream: malformed packet: %v", err)
			continue
		}
		c.handle(p)
	}
}

func (c *Client) handle(p Packet) {
	switch p.Type {
	case "image":
		c.publish(events.KindLiveImage, events.LiveImage{Image: p.Data})
	case "ocr":
		c.handleOCR(p)
	default:
		monitoring.Logf("upstream: ignoring packet type %q", p.Type)
	}
}

func (c *Client) handleOCR(p Packet) {
	valid := p.Confidence >= c.cfg.Threshold
	c.publish(events.KindOCRResult, events.OCRResult{Text: p.Data, Confidence: p.Confidence, IsValid: valid})
	if !valid {
		c.publish(events.KindProcessStep, events.ProcessStep{
			Step:    events.StepLowConfidence,
			Status:  events.StatusWarning,
			Message: fmt.Sprintf("confidence %.2f below %.2f", p.Confidence, c.cfg.Threshold),
		})
		return
	}

	id, err := order.Normalize(p.Data)
	if err != nil {
		monitoring.Logf("upstream: %v", err)
		c.publish(events.KindProcessStep, events.ProcessStep{
			Step:    events.StepInvalidID,
			Status:  events.StatusWarning,
			Message: err.Error(),
		})
		return
	}
	if c.cfg.Submitter == nil {
		return
	}
	if err := c.cfg.Submitter.Submit(id); err != nil && !errors.Is(err, capture.ErrBusy) {
		monitoring.Logf("upstream: submit %s: %v", id, err)
	}
}

func (c *Client) publish(kind events.Kind, data any) {
	c.cfg.Publisher.Publish(events.New(kind, data, c.cfg.Clock.Now()))
}
