package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/order"
	"github.com/banshee-data/packcam/internal/upstream"
)

var spxPattern = regexp.MustCompile(`^SPX\d{10}$`)

func TestSimRead(t *testing.T) {
	ok := newSim(1, 0)
	for i := 0; i < 20; i++ {
		p := ok.read()
		assert.Equal(t, "ocr", p.Type)
		assert.Regexp(t, spxPattern, p.Data)
		assert.Equal(t, 0.95, p.Confidence)
	}

	bad := newSim(1, 1)
	p := bad.read()
	assert.Equal(t, failedReadText, p.Data)
	assert.Equal(t, 0.4, p.Confidence)
}

func TestSimSeedIsDeterministic(t *testing.T) {
	a, b := newSim(42, 0.3), newSim(42, 0.3)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.read(), b.read())
	}
}

func TestPreviewIsBase64JPEG(t *testing.T) {
	p, err := newSim(1, 0).preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "image", p.Type)
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte{0xFF, 0xD8}))
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, upstream.Packet{Type: "ocr", Data: "SPX0000000001", Confidence: 0.95}))
	out := buf.String()
	assert.True(t, strings.HasSuffix(out, "}\n\n"))

	var p upstream.Packet
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &p))
	assert.Equal(t, "SPX0000000001", p.Data)
}

func TestTriggerLineMatchesExtractor(t *testing.T) {
	s := newSim(9, 0)
	for i := 0; i < 50; i++ {
		want := s.labelID()
		require.Len(t, want, 14)
		id, res := order.Extract(strings.TrimSpace(triggerLine(want)))
		assert.Equal(t, order.Accepted, res, want)
		assert.Equal(t, order.ID(want), id)
	}
}

type idRecorder struct {
	mu  sync.Mutex
	ids []order.ID
}

func (r *idRecorder) Submit(id order.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *idRecorder) got() []order.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]order.ID(nil), r.ids...)
}

func TestServeUpstreamFeedsClient(t *testing.T) {
	monitoring.SetLogger(nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- newSim(7, 0).serveUpstream(ctx, ln, time.Millisecond, 3) }()

	rec := &idRecorder{}
	client := upstream.NewClient(upstream.Config{Address: ln.Addr().String(), Submitter: rec, Backoff: 10 * time.Millisecond})
	go client.Run(ctx)

	require.Eventually(t, func() bool { return len(rec.got()) == 3 }, 5*time.Second, 5*time.Millisecond)
	for _, id := range rec.got() {
		assert.Regexp(t, spxPattern, string(id))
	}
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serveUpstream did not return after count reads")
	}
}

func TestSendTriggers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var got []string
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			got = append(got, sc.Text())
		}
		lines <- got
	}()

	require.NoError(t, newSim(3, 0).sendTriggers(context.Background(), ln.Addr().String(), time.Millisecond, 2))
	select {
	case got := <-lines:
		require.Len(t, got, 2)
		for _, l := range got {
			_, res := order.Extract(l)
			assert.Equal(t, order.Accepted, res, l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no lines received")
	}
}
