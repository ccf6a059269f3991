// Command ocr-sim stands in for the OCR scanner during bench testing.
//
// Usage:
//
//	go run ./cmd/tools/ocr-sim [flags]
//
// Flags:
//
//	-mode      upstream (serve image/ocr packets) or trigger (send label lines)
//	-addr      listen address in upstream mode, packcam trigger address in trigger mode
//	-interval  delay between reads (default: 2s)
//	-fail      fraction of reads that fail OCR in upstream mode (default: 0.3)
//	-count     stop after this many reads, 0 runs until interrupted
//	-seed      random seed, 0 picks one from the clock
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/packcam/internal/camera"
	"github.com/banshee-data/packcam/internal/timeutil"
	"github.com/banshee-data/packcam/internal/upstream"
)

var (
	mode     = flag.String("mode", "upstream", "upstream or trigger")
	addr     = flag.String("addr", "", "Address (default 0.0.0.0:5011 for upstream, 127.0.0.1:5001 for trigger)")
	interval = flag.Duration("interval", 2*time.Second, "Delay between reads")
	failRate = flag.Float64("fail", 0.3, "Fraction of failed OCR reads in upstream mode")
	count    = flag.Int("count", 0, "Number of reads to send, 0 for unlimited")
	seed     = flag.Uint64("seed", 0, "Random seed, 0 for time based")
)

const (
	upstreamDefaultAddr = "0.0.0.0:5011"
	triggerDefaultAddr  = "127.0.0.1:5001"
	failedReadText      = "ERROR_READ"
)

// sim produces scanner reads.
type sim struct {
	rng      *rand.Rand
	failRate float64
	camera   *camera.SimulatedDevice
}

func newSim(seed uint64, failRate float64) *sim {
	return &sim{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		failRate: failRate,
		camera:   camera.NewSimulatedDevice(0, timeutil.RealClock{}),
	}
}

// orderID returns an SPX parcel number: SPX plus ten digits.
func (s *sim) orderID() string {
	return fmt.Sprintf("SPX%010d", s.rng.Int64N(9_000_000_000)+1_000_000_000)
}

// labelID returns a 14 character order number as printed on shipping labels:
// YYMMDD, one letter, then seven hex digits.
func (s *sim) labelID() string {
	letter := 'A' + rune(s.rng.IntN(26))
	return fmt.Sprintf("%s%c%07X", time.Now().Format("060102"), letter, s.rng.Uint32()&0xfffffff)
}

// read returns one OCR packet, failed reads carry low confidence.
func (s *sim) read() upstream.Packet {
	if s.rng.Float64() < s.failRate {
		return upstream.Packet{Type: "ocr", Data: failedReadText, Confidence: 0.4}
	}
	return upstream.Packet{Type: "ocr", Data: s.orderID(), Confidence: 0.95}
}

// preview returns an image packet holding a rendered JPEG frame.
func (s *sim) preview(ctx context.Context) (upstream.Packet, error) {
	frame, err := s.camera.Capture(ctx)
	if err != nil {
		return upstream.Packet{}, err
	}
	return upstream.Packet{Type: "image", Data: base64.StdEncoding.EncodeToString(frame)}, nil
}

// writeFrame writes p followed by the blank-line frame delimiter.
func writeFrame(w io.Writer, p upstream.Packet) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n', '\n'))
	return err
}

// triggerLine formats a label line the way the OCR trigger camera prints it.
func triggerLine(id string) string {
	return "Shopee Order No. " + id + "\n"
}

// streamUpstream sends image and ocr packets to one connection until ctx is
// done, the connection fails, or n reads were sent (n > 0).
func (s *sim) streamUpstream(ctx context.Context, conn net.Conn, every time.Duration, n int) error {
	for sent := 0; n == 0 || sent < n; sent++ {
		img, err := s.preview(ctx)
		if err != nil {
			return err
		}
		if err := writeFrame(conn, img); err != nil {
			return err
		}
		p := s.read()
		if err := writeFrame(conn, p); err != nil {
			return err
		}
		log.Printf("sent %s (confidence %.2f)", p.Data, p.Confidence)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
	return nil
}

// serveUpstream accepts packcam connections one at a time.
func (s *sim) serveUpstream(ctx context.Context, ln net.Listener, every time.Duration, n int) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		log.Printf("packcam connected from %s", conn.RemoteAddr())
		err = s.streamUpstream(ctx, conn, every, n)
		conn.Close()
		if err == nil || ctx.Err() != nil {
			return err
		}
		log.Printf("connection lost: %v", err)
	}
}

// sendTriggers dials the packcam trigger listener and writes label lines.
func (s *sim) sendTriggers(ctx context.Context, address string, every time.Duration, n int) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	defer conn.Close()
	for sent := 0; n == 0 || sent < n; sent++ {
		id := s.labelID()
		if _, err := io.WriteString(conn, triggerLine(id)); err != nil {
			return err
		}
		log.Printf("triggered %s", id)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
	return nil
}

func main() {
	flag.Parse()

	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}
	s := newSim(*seed, *failRate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch *mode {
	case "upstream":
		address := *addr
		if address == "" {
			address = upstreamDefaultAddr
		}
		ln, lerr := net.Listen("tcp", address)
		if lerr != nil {
			log.Fatalf("failed to listen on %s: %v", address, lerr)
		}
		log.Printf("scanner simulator listening on %s", ln.Addr())
		err = s.serveUpstream(ctx, ln, *interval, *count)
	case "trigger":
		address := *addr
		if address == "" {
			address = triggerDefaultAddr
		}
		err = s.sendTriggers(ctx, address, *interval, *count)
	default:
		log.Fatalf("unknown -mode %q", *mode)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("ocr-sim: %v", err)
	}
}
