package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "evidence")
	unsafeDir := filepath.Join(tmpDir, "elsewhere")
	if err := os.MkdirAll(safeDir, 0755); err != nil {
		t.Fatalf("Failed to create safe directory: %v", err)
	}
	if err := os.MkdirAll(unsafeDir, 0755); err != nil {
		t.Fatalf("Failed to create unsafe directory: %v", err)
	}

	// A symlinked order folder pointing outside the evidence root
	symlinkPath := filepath.Join(safeDir, "EVILLINK000001")
	if err := os.Symlink(unsafeDir, symlinkPath); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{"order folder", filepath.Join(safeDir, "AB12CD34EF56GH"), safeDir, false},
		{"image inside order folder", filepath.Join(safeDir, "AB12CD34EF56GH", "cam1_20260101_120000.jpg"), safeDir, false},
		{"traversal with ..", filepath.Join(safeDir, "..", "elsewhere"), safeDir, true},
		{"relative traversal", "../../../etc/passwd", safeDir, true},
		{"symlink escape", filepath.Join(symlinkPath, "cam1.jpg"), safeDir, true},
		{"root not yet created", filepath.Join(tmpDir, "later", "ORDER"), filepath.Join(tmpDir, "later"), false},
		{"escape from missing root", filepath.Join(tmpDir, "later", "..", "x"), filepath.Join(tmpDir, "later"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q, %q) error = %v, wantError %v", tt.filePath, tt.safeDir, err, tt.wantError)
			}
			if err != nil && tt.wantError && !errors.Is(err, ErrPathTraversal) {
				t.Errorf("expected ErrPathTraversal, got %v", err)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "unknown"},
		{"AB12CD34EF56GH", "AB12CD34EF56GH"},
		{"../../etc", "etc"},
		{"SPX 123/456", "SPX_123_456"},
		{"a??b", "a_b"},
		{"...", "unknown"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
