package evidence

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/packcam/internal/fsutil"
	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/order"
	"github.com/banshee-data/packcam/internal/timeutil"
)

const root = "/evidence"

func newTestStore(t *testing.T) (*Store, *fsutil.MemoryFileSystem, *timeutil.MockClock) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.MkdirAll(root, 0o755))
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 30, 15, 0, time.Local))
	return NewStore(root, fsys, clock), fsys, clock
}

func TestHasEvidence(t *testing.T) {
	s, fsys, _ := newTestStore(t)
	id := order.ID("AB12CD34EF56GH")

	assert.False(t, s.HasEvidence(id), "missing folder")

	folder, err := s.EnsureFolder(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "AB12CD34EF56GH"), folder)
	assert.False(t, s.HasEvidence(id), "empty folder reads as not captured")

	require.NoError(t, fsys.WriteFile(filepath.Join(folder, "notes.txt"), []byte("x"), 0o644))
	assert.False(t, s.HasEvidence(id), "non-image files do not count")

	require.NoError(t, fsys.WriteFile(filepath.Join(folder, "cam1_20260101_000000.JPG"), []byte("x"), 0o644))
	assert.True(t, s.HasEvidence(id), "suffix match is case-insensitive")
}

func TestEnsureFolder_RejectsEscape(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.EnsureFolder(order.ID("../outside"))
	assert.True(t, errors.Is(err, ErrOutsideRoot), "err = %v", err)
}

func TestReplaceSlotImage_Idempotent(t *testing.T) {
	s, fsys, clock := newTestStore(t)
	folder, err := s.EnsureFolder("ORDER0000000001")
	require.NoError(t, err)

	first, err := s.ReplaceSlotImage(folder, 2, []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, "cam2_20260301_093015.jpg"), first)

	clock.Advance(5 * time.Second)
	second, err := s.ReplaceSlotImage(folder, 2, []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, "cam2_20260301_093020.jpg"), second)

	// Same second: the name collides with the file being replaced.
	third, err := s.ReplaceSlotImage(folder, 2, []byte("three"))
	require.NoError(t, err)
	assert.Equal(t, second, third)

	_, err = s.ReplaceSlotImage(folder, 1, []byte("slot1"))
	require.NoError(t, err)

	want := []string{
		filepath.Join(folder, "cam1_20260301_093020.jpg"),
		filepath.Join(folder, "cam2_20260301_093020.jpg"),
	}
	if diff := cmp.Diff(want, fsys.Files()); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	data, err := fsys.ReadFile(third)
	require.NoError(t, err)
	assert.Equal(t, "three", string(data))
}

func TestReplaceSlotImage_DoesNotTouchOtherSlots(t *testing.T) {
	s, fsys, _ := newTestStore(t)
	folder, err := s.EnsureFolder("ORDER0000000002")
	require.NoError(t, err)

	// cam1 must not match cam10 or cam12.
	for _, name := range []string{"cam10_20250101_000000.jpg", "cam12_20250101_000000.jpg", "cam1_20250101_000000.jpg"} {
		require.NoError(t, fsys.WriteFile(filepath.Join(folder, name), []byte("old"), 0o644))
	}

	_, err = s.ReplaceSlotImage(folder, 1, []byte("new"))
	require.NoError(t, err)

	got, err := s.SlotImages("ORDER0000000002")
	require.NoError(t, err)
	want := map[int]string{
		1:  filepath.Join(folder, "cam1_20260301_093015.jpg"),
		10: filepath.Join(folder, "cam10_20250101_000000.jpg"),
		12: filepath.Join(folder, "cam12_20250101_000000.jpg"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SlotImages mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceSlotImage_RemoveFailureStillWrites(t *testing.T) {
	s, fsys, clock := newTestStore(t)
	folder, err := s.EnsureFolder("ORDER0000000003")
	require.NoError(t, err)
	_, err = s.ReplaceSlotImage(folder, 1, []byte("old"))
	require.NoError(t, err)

	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })

	fsys.RemoveErr = errors.New("busy")
	clock.Advance(time.Second)
	path, err := s.ReplaceSlotImage(folder, 1, []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, "cam1_20260301_093016.jpg"), path)
	assert.Len(t, logged, 1)
	assert.Len(t, fsys.Files(), 2)
}

func TestReplaceSlotImage_WriteFailure(t *testing.T) {
	s, fsys, _ := newTestStore(t)
	folder, err := s.EnsureFolder("ORDER0000000004")
	require.NoError(t, err)

	fsys.WriteErr = errors.New("disk full")
	_, err = s.ReplaceSlotImage(folder, 1, []byte("x"))
	assert.Error(t, err)
	assert.False(t, s.HasEvidence("ORDER0000000004"))
}

func TestReplaceSlotImage_MissingFolder(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.ReplaceSlotImage(filepath.Join(root, "NOPE"), 1, []byte("x"))
	assert.Error(t, err)
}

func TestOrders(t *testing.T) {
	s, fsys, _ := newTestStore(t)
	for _, id := range []order.ID{"ZZZ00000000001", "AAA00000000001", "EMPTY000000001"} {
		_, err := s.EnsureFolder(id)
		require.NoError(t, err)
	}
	require.NoError(t, fsys.MkdirAll(filepath.Join(root, ".hidden"), 0o755))

	for _, id := range []order.ID{"ZZZ00000000001", "AAA00000000001"} {
		_, err := s.ReplaceSlotImage(s.Folder(id), 1, []byte("x"))
		require.NoError(t, err)
	}

	got, err := s.Orders()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA00000000001", "ZZZ00000000001"}, got)
}

func TestReadImage(t *testing.T) {
	s, _, _ := newTestStore(t)
	folder, err := s.EnsureFolder("ORDER0000000005")
	require.NoError(t, err)
	path, err := s.ReplaceSlotImage(folder, 3, []byte("jpeg"))
	require.NoError(t, err)

	data, err := s.ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	_, err = s.ReadImage("/etc/passwd")
	assert.True(t, errors.Is(err, ErrOutsideRoot))
}

func TestParseSlot(t *testing.T) {
	tests := []struct {
		name string
		slot int
		ok   bool
	}{
		{"cam1_20260101_000000.jpg", 1, true},
		{"cam12_x.JPG", 12, true},
		{"cam_20260101.jpg", 0, false},
		{"cam0_20260101.jpg", 0, false},
		{"camx_20260101.jpg", 0, false},
		{"cam1_20260101.png", 0, false},
		{"photo1_20260101.jpg", 0, false},
	}
	for _, tt := range tests {
		slot, ok := parseSlot(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.slot, slot, tt.name)
	}
}
