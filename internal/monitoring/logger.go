// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = logAndTee

var (
	sinkMu sync.RWMutex
	sink   func(line string)
)

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
// Passing a non-nil logger replaces log.Printf but keeps the sink tee.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = func(format string, v ...interface{}) {
		f(format, v...)
		tee(format, v...)
	}
}

// SetSink registers a callback that receives every formatted log line, used
// to forward the operator log to status subscribers. Passing nil removes it.
func SetSink(f func(line string)) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = f
}

func logAndTee(format string, v ...interface{}) {
	log.Printf(format, v...)
	tee(format, v...)
}

func tee(format string, v ...interface{}) {
	sinkMu.RLock()
	f := sink
	sinkMu.RUnlock()
	if f != nil {
		f(fmt.Sprintf(format, v...))
	}
}
