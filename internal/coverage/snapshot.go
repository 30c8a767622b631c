package coverage

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotExt = ".msgpack.zst"

// Snapshot is a computed coverage as written to disk
type Snapshot struct {
	ComputedAt time.Time `msgpack:"computed_at"`
	Coverage   Coverage  `msgpack:"coverage"`
}

// SnapshotStore keeps the last computed coverage of every site as a
// zstd-compressed msgpack file
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore creates the directory if needed
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) path(site string) string {
	return filepath.Join(s.dir, url.PathEscape(site)+snapshotExt)
}

// Save writes the snapshot of cov, replacing any previous one
func (s *SnapshotStore) Save(cov *Coverage, computedAt time.Time) error {
	tmp, err := os.CreateTemp(s.dir, "coverage-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := msgpack.NewEncoder(zw).Encode(Snapshot{ComputedAt: computedAt.UTC(), Coverage: *cov}); err != nil {
		zw.Close()
		tmp.Close()
		return fmt.Errorf("msgpack encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("zstd close: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(cov.Site))
}

// Load reads the snapshot of site
func (s *SnapshotStore) Load(site string) (*Snapshot, error) {
	return readSnapshot(s.path(site))
}

// LoadAll reads every snapshot in the directory. Unreadable files are reported
// in the returned error map and skipped.
func (s *SnapshotStore) LoadAll() ([]*Snapshot, map[string]error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, map[string]error{s.dir: err}
	}

	var snaps []*Snapshot
	failed := make(map[string]error)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		snap, err := readSnapshot(path)
		if err != nil {
			failed[path] = err
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, failed
}

func readSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var snap Snapshot
	if err := msgpack.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}
	if snap.Coverage.Layers == nil {
		snap.Coverage.Layers = []Layer{}
	}
	return &snap, nil
}
