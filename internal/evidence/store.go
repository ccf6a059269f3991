// Package evidence manages the per-order image folders.
//
// The folder tree is the only persistent state: <root>/<order>/cam<slot>_<ts>.jpg.
// Whether an order has been captured is derived from the tree on every call,
// so deduplication survives restarts without a separate index.
package evidence

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/packcam/internal/fsutil"
	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/order"
	"github.com/banshee-data/packcam/internal/security"
	"github.com/banshee-data/packcam/internal/timeutil"
)

// ErrOutsideRoot is returned when an order folder would resolve outside the
// evidence root.
var ErrOutsideRoot = errors.New("evidence path outside root")

const (
	imageExt        = ".jpg"
	timestampLayout = "20060102_150405"
	folderPerm      = 0o755
	filePerm        = 0o644
)

// Store is the evidence folder tree under a single root directory. It assumes
// a single writer per root.
type Store struct {
	root  string
	fs    fsutil.FileSystem
	clock timeutil.Clock
}

// NewStore returns a store rooted at root. A nil fs or clock selects the
// operating system implementation.
func NewStore(root string, fsys fsutil.FileSystem, clock timeutil.Clock) *Store {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Store{root: filepath.Clean(root), fs: fsys, clock: clock}
}

// Root returns the evidence root directory.
func (s *Store) Root() string { return s.root }

// Folder returns the folder path for id without touching the filesystem.
func (s *Store) Folder(id order.ID) string {
	return filepath.Join(s.root, string(id))
}

// HasEvidence reports whether the order folder exists and holds at least one
// image. An empty folder left behind by an interrupted capture reads as not
// captured.
func (s *Store) HasEvidence(id order.ID) bool {
	entries, err := s.fs.ReadDir(s.Folder(id))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && isImage(e.Name()) {
			return true
		}
	}
	return false
}

// EnsureFolder creates the folder for id if needed and returns its path.
func (s *Store) EnsureFolder(id order.ID) (string, error) {
	folder := s.Folder(id)
	if err := security.ValidatePathWithinDirectory(folder, s.root); err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutsideRoot, err)
	}
	if err := s.fs.MkdirAll(folder, folderPerm); err != nil {
		return "", fmt.Errorf("create evidence folder %s: %w", folder, err)
	}
	return folder, nil
}

// ReplaceSlotImage removes every existing image for slot in folder and writes
// data under a fresh timestamped name. Removal failures are logged and do not
// stop the write. On success the folder holds exactly one image for the slot
// unless a stale file could not be removed.
func (s *Store) ReplaceSlotImage(folder string, slot int, data []byte) (string, error) {
	if err := security.ValidatePathWithinDirectory(folder, s.root); err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutsideRoot, err)
	}
	stale, err := s.slotFiles(folder, slot)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", folder, err)
	}

	name := fmt.Sprintf("cam%d_%s%s", slot, s.clock.Now().Format(timestampLayout), imageExt)
	path := filepath.Join(folder, name)

	for _, old := range stale {
		if err := s.fs.Remove(old); err != nil {
			monitoring.Logf("evidence: failed to remove %s: %v", old, err)
		}
	}
	if err := s.fs.WriteFile(path, data, filePerm); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// SlotImages returns the current image path per slot for id. When a slot has
// several files (a failed removal) the lexically last, i.e. newest, wins.
func (s *Store) SlotImages(id order.ID) (map[int]string, error) {
	folder := s.Folder(id)
	entries, err := s.fs.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		slot, ok := parseSlot(e.Name())
		if !ok {
			continue
		}
		out[slot] = filepath.Join(folder, e.Name())
	}
	return out, nil
}

// Orders lists the order folders under root that hold evidence, sorted by name.
func (s *Store) Orders() ([]string, error) {
	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if s.HasEvidence(order.ID(e.Name())) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadImage returns the bytes of an image previously reported by the store.
func (s *Store) ReadImage(path string) ([]byte, error) {
	if err := security.ValidatePathWithinDirectory(path, s.root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutsideRoot, err)
	}
	return s.fs.ReadFile(path)
}

func (s *Store) slotFiles(folder string, slot int) ([]string, error) {
	entries, err := s.fs.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := parseSlot(e.Name()); ok && n == slot {
			out = append(out, filepath.Join(folder, e.Name()))
		}
	}
	return out, nil
}

// parseSlot extracts N from "camN_*.jpg".
func parseSlot(name string) (int, bool) {
	if !strings.HasPrefix(name, "cam") || !isImage(name) {
		return 0, false
	}
	rest := name[len("cam"):]
	i := strings.IndexByte(rest, '_')
	if i <= 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:i])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func isImage(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), imageExt)
}
