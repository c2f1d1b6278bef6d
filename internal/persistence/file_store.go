package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// SnapshotFileName is the name of the snapshot inside a session directory.
const SnapshotFileName = "state.json"

const sessionDirPrefix = "session_"

// FileStore is a SnapshotStore that writes one JSON file per run:
//
//	<root>/<participant>/session_<n>/state.json
//
// Writes go to a temporary file that is renamed over the snapshot, so a crash
// mid-write leaves the previous snapshot intact.
type FileStore struct {
	fs   afero.Fs
	root string
	now  func() time.Time
}

var (
	_ SnapshotStore  = (*FileStore)(nil)
	_ SnapshotLister = (*FileStore)(nil)
)

// NewFileStore returns a store rooted at root on fsys. A nil fsys means the
// OS filesystem.
func NewFileStore(fsys afero.Fs, root string) *FileStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FileStore{fs: fsys, root: root, now: time.Now}
}

// Fs returns the filesystem the store writes to.
func (s *FileStore) Fs() afero.Fs { return s.fs }

// SessionDir returns the directory holding the run's snapshot. Experiments
// keep their per-session artifacts beside it.
func (s *FileStore) SessionDir(id api.RunIdentity) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	if strings.ContainsAny(id.Participant, `/\`) || id.Participant == "." || id.Participant == ".." {
		return "", fmt.Errorf("%w: participant %q is not a valid directory name", api.ErrInvalidIdentity, id.Participant)
	}
	return filepath.Join(s.root, id.Participant, sessionDirPrefix+strconv.Itoa(id.Session)), nil
}

func (s *FileStore) Load(ctx context.Context, id api.RunIdentity) (*api.State, error) {
	dir, err := s.SessionDir(id)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(dir, SnapshotFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	st, _, err := DecodeSnapshot(data)
	return st, err
}

func (s *FileStore) Save(ctx context.Context, st *api.State) error {
	dir, err := s.SessionDir(st.Identity)
	if err != nil {
		return err
	}
	data, err := EncodeSnapshot(st, s.now())
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	path := filepath.Join(dir, SnapshotFileName)
	tmp := path + ".tmp"
	if err := s.writeSynced(tmp, data); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// writeSynced writes data to name and flushes it to stable storage before
// closing.
func (s *FileStore) writeSynced(name string, data []byte) error {
	f, err := s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// List walks <root>/<participant>/session_<n> directories that contain a
// snapshot file.
func (s *FileStore) List(ctx context.Context) ([]api.RunIdentity, error) {
	participants, err := afero.ReadDir(s.fs, s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []api.RunIdentity
	for _, p := range participants {
		if !p.IsDir() {
			continue
		}
		sessions, err := afero.ReadDir(s.fs, filepath.Join(s.root, p.Name()))
		if err != nil {
			return nil, err
		}
		for _, sd := range sessions {
			if !sd.IsDir() || !strings.HasPrefix(sd.Name(), sessionDirPrefix) {
				continue
			}
			n, err := strconv.Atoi(strings.TrimPrefix(sd.Name(), sessionDirPrefix))
			if err != nil {
				continue
			}
			ok, err := afero.Exists(s.fs, filepath.Join(s.root, p.Name(), sd.Name(), SnapshotFileName))
			if err != nil {
				return nil, err
			}
			if ok {
				ids = append(ids, api.RunIdentity{Participant: p.Name(), Session: n})
			}
		}
	}
	sortIdentities(ids)
	return ids, nil
}
