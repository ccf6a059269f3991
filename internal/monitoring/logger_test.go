package monitoring

import (
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestSetSink(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()
	defer SetSink(nil)

	SetLogger(func(string, ...interface{}) {})

	var lines []string
	SetSink(func(line string) { lines = append(lines, line) })

	Logf("captured %d images for %s", 3, "AB12CD34EF56GH")
	if len(lines) != 1 || lines[0] != "captured 3 images for AB12CD34EF56GH" {
		t.Fatalf("unexpected sink lines: %q", lines)
	}

	SetSink(nil)
	Logf("after removal")
	if len(lines) != 1 {
		t.Errorf("sink should not receive lines after removal, got %q", lines)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}
