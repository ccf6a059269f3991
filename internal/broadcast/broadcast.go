// Package broadcast fans status events out to every connected subscriber and
// relays their retake commands back to the capture orchestrator.
//
// Subscribers connect over TCP and receive one JSON event per line. There is
// no backlog: a subscriber sees only events published after it connected,
// preceded by a single system_status greeting. In-process subscriptions
// (Subscribe/Unsubscribe) back the debug event tail.
package broadcast

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/packcam/internal/events"
	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/timeutil"
)

// DefaultWriteTimeout bounds a single write to one subscriber.
const DefaultWriteTimeout = 2 * time.Second

// acceptRetryDelay is the pause after a failed Accept before trying again.
const acceptRetryDelay = 100 * time.Millisecond

// maxCommandLine caps a single command line read from a subscriber.
const maxCommandLine = 64 << 10

// CommandHandler executes operator commands received from subscribers.
type CommandHandler interface {
	RetakeSlot(slot int) error
	RetakeAll() error
}

// Command is one newline-delimited JSON command from a subscriber.
type Command struct {
	Command string `json:"command"`
	Slot    int    `json:"slot,omitempty"`
}

// Command names.
const (
	CommandRetake    = "retake"
	CommandRetakeAll = "retake_all"
)

// Options configures a Broadcaster.
type Options struct {
	WriteTimeout time.Duration
	Clock        timeutil.Clock
	// Greeting builds the system_status payload sent to each new subscriber.
	Greeting func() events.SystemStatus
}

type subscriber struct {
	id     string
	conn   net.Conn
	remote string
	since  time.Time
}

// SubscriberInfo describes a connected subscriber.
type SubscriberInfo struct {
	ID     string    `json:"id"`
	Remote string    `json:"remote"`
	Since  time.Time `json:"since"`
}

// Broadcaster is the status fan-out. It is safe for concurrent use.
type Broadcaster struct {
	writeTimeout time.Duration
	clock        timeutil.Clock
	greeting     func() events.SystemStatus

	handlerMu sync.RWMutex
	handler   CommandHandler

	mu   sync.Mutex
	subs map[string]*subscriber
	taps map[string]chan events.Event

	wg sync.WaitGroup
}

// New returns a broadcaster with no subscribers.
func New(opts Options) *Broadcaster {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Greeting == nil {
		opts.Greeting = func() events.SystemStatus { return events.SystemStatus{Status: "ready"} }
	}
	return &Broadcaster{
		writeTimeout: opts.WriteTimeout,
		clock:        opts.Clock,
		greeting:     opts.Greeting,
		subs:         make(map[string]*subscriber),
		taps:         make(map[string]chan events.Event),
	}
}

// SetHandler installs the command handler. Commands received before a
// handler is set are logged and ignored.
func (b *Broadcaster) SetHandler(h CommandHandler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.handler = h
}

// Publish writes e to every subscriber. A subscriber whose write fails or
// exceeds the write timeout is closed and removed. Publish never queues.
func (b *Broadcaster) Publish(e events.Event) {
	line, err := e.Encode()
	if err != nil {
		monitoring.Logf("broadcast: failed to encode %s event: %v", e.Type, err)
		return
	}

	var dropped []string
	// Writes happen under mu so event order is the same for every subscriber;
	// a stalled subscriber delays publishers by at most writeTimeout.
	b.mu.Lock()
	for id, s := range b.subs {
		if err := b.write(s, line); err != nil {
			dropped = append(dropped, s.remote+": "+err.Error())
			s.conn.Close()
			delete(b.subs, id)
		}
	}
	for _, ch := range b.taps {
		select {
		case ch <- e:
		default:
			// skip slow in-process subscribers rather than block publishers
		}
	}
	b.mu.Unlock()

	for _, d := range dropped {
		monitoring.Logf("broadcast: removed subscriber %s", d)
	}
}

func (b *Broadcaster) write(s *subscriber, line []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(line)
	return err
}

// Serve accepts subscribers on ln until ctx is cancelled, then closes the
// listener and every subscriber connection. Other accept errors are logged
// and retried; Serve returns early only if ln is closed underneath it.
func (b *Broadcaster) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	defer b.closeSubscribers()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("broadcast: accept error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.clock.After(acceptRetryDelay):
			}
			continue
		}
		b.add(conn)
	}
}

func (b *Broadcaster) add(conn net.Conn) {
	s := &subscriber{
		id:     uuid.NewString(),
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		since:  b.clock.Now(),
	}
	hello, err := events.New(events.KindSystemStatus, b.greeting(), b.clock.Now()).Encode()
	if err != nil {
		monitoring.Logf("broadcast: failed to encode greeting: %v", err)
		conn.Close()
		return
	}

	b.mu.Lock()
	if err := b.write(s, hello); err != nil {
		b.mu.Unlock()
		conn.Close()
		monitoring.Logf("broadcast: subscriber %s failed greeting: %v", s.remote, err)
		return
	}
	b.subs[s.id] = s
	n := len(b.subs)
	b.mu.Unlock()

	monitoring.Logf("broadcast: subscriber %s connected (%d total)", s.remote, n)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.readCommands(s)
	}()
}

// readCommands consumes newline-delimited commands until the connection
// closes, then removes the subscriber.
func (b *Broadcaster) readCommands(s *subscriber) {
	scan := bufio.NewScanner(s.conn)
	scan.Buffer(make([]byte, 0, 4096), maxCommandLine)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		b.dispatch(s, line)
	}
	b.remove(s.id)
}

func (b *Broadcaster) dispatch(s *subscriber, line string) {
	var cmd Command
	if err := json.Unmarshal([]byte(line), &cmd); err != nil {
		monitoring.Logf("broadcast: malformed command from %s: %q", s.remote, line)
		return
	}

	b.handlerMu.RLock()
	h := b.handler
	b.handlerMu.RUnlock()
	if h == nil {
		monitoring.Logf("broadcast: no handler for command %q", cmd.Command)
		return
	}

	var err error
	switch cmd.Command {
	case CommandRetake:
		err = h.RetakeSlot(cmd.Slot)
	case CommandRetakeAll:
		err = h.RetakeAll()
	default:
		monitoring.Logf("broadcast: unknown command %q from %s", cmd.Command, s.remote)
		return
	}
	if err != nil {
		monitoring.Logf("broadcast: %s from %s: %v", cmd.Command, s.remote, err)
	}
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		s.conn.Close()
		monitoring.Logf("broadcast: subscriber %s disconnected", s.remote)
	}
}

func (b *Broadcaster) closeSubscribers() {
	b.mu.Lock()
	for id, s := range b.subs {
		s.conn.Close()
		delete(b.subs, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Count returns the number of connected TCP subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribers lists connected TCP subscribers.
func (b *Broadcaster) Subscribers() []SubscriberInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SubscriberInfo, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, SubscriberInfo{ID: s.id, Remote: s.remote, Since: s.since})
	}
	return out
}

// Subscribe registers an in-process subscriber. Events are dropped for it
// while its channel is full.
func (b *Broadcaster) Subscribe() (string, <-chan events.Event) {
	id := uuid.NewString()
	ch := make(chan events.Event, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps[id] = ch
	return id, ch
}

// Unsubscribe removes an in-process subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.taps[id]; ok {
		close(ch)
		delete(b.taps, id)
	}
}

// Close closes every subscriber, TCP and in-process.
func (b *Broadcaster) Close() {
	b.closeSubscribers()
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.taps {
		close(ch)
		delete(b.taps, id)
	}
}
