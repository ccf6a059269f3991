// Package ingest receives free-text scanner output and turns it into order
// identifiers for the capture orchestrator.
//
// The trigger listener accepts one TCP connection at a time and splits its
// byte stream into lines. A serial source does the same for scanners wired
// over RS-232. Both hand every line to a LineHandler, normally a Pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/banshee-data/packcam/internal/monitoring"
)

const (
	// DefaultPoll is how often blocked accepts and reads wake to observe
	// shutdown.
	DefaultPoll = time.Second
	// ChunkSize is the read size for trigger connections.
	ChunkSize = 1024
)

// ListenerConfig configures a trigger Listener.
type ListenerConfig struct {
	Address string
	Handler LineHandler
	Factory ListenerFactory
	Poll    time.Duration
}

// Listener is the trigger socket. Connections are served one at a time.
type Listener struct {
	address string
	handler LineHandler
	factory ListenerFactory
	poll    time.Duration
	ln      Acceptor
}

// NewListener creates a listener; call Bind then Run.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.Factory == nil {
		cfg.Factory = TCPListenerFactory{}
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	return &Listener{
		address: cfg.Address,
		handler: cfg.Handler,
		factory: cfg.Factory,
		poll:    cfg.Poll,
	}
}

// Bind opens the listening socket. A bind failure is the one startup error
// callers should treat as fatal.
func (l *Listener) Bind() error {
	ln, err := l.factory.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}
	l.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Run accepts and serves trigger connections until ctx is cancelled. It
// binds first if Bind has not been called.
func (l *Listener) Run(ctx context.Context) error {
	if l.ln == nil {
		if err := l.Bind(); err != nil {
			return err
		}
	}
	defer l.ln.Close()
	monitoring.Logf("ingest: trigger listener on %s", l.ln.Addr())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Set deadline to allow checking context cancellation
		if err := l.ln.SetDeadline(time.Now().Add(l.poll)); err != nil {
			return fmt.Errorf("set accept deadline: %w", err)
		}
		conn, err := l.ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("ingest: accept error: %v", err)
			continue
		}
		l.serve(ctx, conn)
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr()
	monitoring.Logf("ingest: scanner connected from %s", remote)

	var lines lineBuffer
	emit := l.handler.HandleLine
	buf := make([]byte, ChunkSize)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(l.poll)); err != nil {
			monitoring.Logf("ingest: set read deadline: %v", err)
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			lines.feed(buf[:n], emit)
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if !errors.Is(err, io.EOF) {
				monitoring.Logf("ingest: read from %s: %v", remote, err)
			}
			break
		}
		if n == 0 {
			break
		}
	}
	lines.flush(emit)
	monitoring.Logf("ingest: scanner %s disconnected", remote)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
