package ingest

import (
	"bytes"
	"strings"

	"github.com/banshee-data/packcam/internal/monitoring"
)

// MaxLineLength bounds a single buffered line. Longer input is discarded up
// to the next line end.
const MaxLineLength = 64 << 10

// lineBuffer splits a byte stream into lines on CR, LF or CRLF, carrying a
// partial line across reads. CRLF yields an empty second line, which is
// skipped. Bytes are kept raw until a line completes so that a multi-byte
// character split across two reads survives; invalid UTF-8 is dropped per line.
type lineBuffer struct {
	buf      []byte
	overflow bool
}

func (b *lineBuffer) feed(p []byte, emit func(string)) {
	for len(p) > 0 {
		i := bytes.IndexAny(p, "\r\n")
		if i < 0 {
			b.append(p)
			return
		}
		b.append(p[:i])
		b.emit(emit)
		p = p[i+1:]
	}
}

func (b *lineBuffer) append(p []byte) {
	if b.overflow {
		return
	}
	if len(b.buf)+len(p) > MaxLineLength {
		monitoring.Logf("ingest: discarding line longer than %d bytes", MaxLineLength)
		b.buf = b.buf[:0]
		b.overflow = true
		return
	}
	b.buf = append(b.buf, p...)
}

func (b *lineBuffer) emit(emit func(string)) {
	overflow := b.overflow
	line := strings.ToValidUTF8(string(b.buf), "")
	b.buf = b.buf[:0]
	b.overflow = false
	if overflow {
		return
	}
	if strings.TrimSpace(line) == "" {
		return
	}
	emit(line)
}

// flush emits any trailing partial line, used when the peer disconnects.
func (b *lineBuffer) flush(emit func(string)) {
	if len(b.buf) > 0 || b.overflow {
		b.emit(emit)
	}
}
