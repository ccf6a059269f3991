package ingest

import (
	"context"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/timeutil"
)

// DefaultReopenDelay is the wait between attempts to open a missing port.
const DefaultReopenDelay = 3 * time.Second

// SerialPort is the subset of serial.Port the source needs. A read that
// times out returns 0, nil.
type SerialPort interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

// PortOpener opens a serial port. The default uses go.bug.st/serial.
type PortOpener func(path string, mode *serial.Mode) (SerialPort, error)

func openSerial(path string, mode *serial.Mode) (SerialPort, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SerialConfig configures a SerialSource.
type SerialConfig struct {
	Path    string
	Options PortOptions
	Handler LineHandler
	Open    PortOpener
	Poll    time.Duration
	Reopen  time.Duration
	Clock   timeutil.Clock
}

// SerialSource reads scanner lines from a serial port, reopening the port
// whenever it disappears.
type SerialSource struct {
	path    string
	mode    *serial.Mode
	handler LineHandler
	open    PortOpener
	poll    time.Duration
	reopen  time.Duration
	clock   timeutil.Clock
}

// NewSerialSource validates the port options and returns a source.
func NewSerialSource(cfg SerialConfig) (*SerialSource, error) {
	mode, err := cfg.Options.SerialMode()
	if err != nil {
		return nil, err
	}
	if cfg.Open == nil {
		cfg.Open = openSerial
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	if cfg.Reopen <= 0 {
		cfg.Reopen = DefaultReopenDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &SerialSource{
		path:    cfg.Path,
		mode:    mode,
		handler: cfg.Handler,
		open:    cfg.Open,
		poll:    cfg.Poll,
		reopen:  cfg.Reopen,
		clock:   cfg.Clock,
	}, nil
}

// Run reads until ctx is cancelled.
func (s *SerialSource) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		port, err := s.open(s.path, s.mode)
		if err != nil {
			monitoring.Logf("ingest: open serial %s: %v", s.path, err)
		} else {
			s.read(ctx, port)
			port.Close()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.reopen):
		}
	}
}

func (s *SerialSource) read(ctx context.Context, port SerialPort) {
	if err := port.SetReadTimeout(s.poll); err != nil {
		monitoring.Logf("ingest: serial %s read timeout: %v", s.path, err)
		return
	}
	monitoring.Logf("ingest: reading scanner on %s", s.path)

	var lines lineBuffer
	buf := make([]byte, ChunkSize)
	for ctx.Err() == nil {
		n, err := port.Read(buf)
		if n > 0 {
			lines.feed(buf[:n], s.handler.HandleLine)
		}
		if err != nil {
			monitoring.Logf("ingest: serial %s: %v", s.path, err)
			break
		}
	}
	lines.flush(s.handler.HandleLine)
}
