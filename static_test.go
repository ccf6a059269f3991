package packcam

import (
	"io/fs"
	"strings"
	"testing"
)

func TestStaticFS(t *testing.T) {
	data, err := fs.ReadFile(StaticFS(), "index.html")
	if err != nil {
		t.Fatalf("index.html missing from embedded assets: %v", err)
	}
	for _, want := range []string{"/api/status", "/api/retake-all"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("dashboard does not reference %s", want)
		}
	}
}
