package checkpoint

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedup/internal/model"
)

// DefaultPath is where the file store keeps its document unless configured.
const DefaultPath = ".crm-dedup/checkpoint.json"

// FileStore keeps the checkpoint as a JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (*model.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read %s", s.path)
	}
	cp, err := decode(data, s.path)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("checkpoint: loaded",
		zap.String("path", s.path),
		zap.Int("pages", cp.Pages),
		zap.Int("records", len(cp.Records)),
		zap.Bool("completed", cp.Completed),
	)
	return cp, nil
}

// Save replaces the document atomically.
func (s *FileStore) Save(_ context.Context, cp *model.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	return writeAtomic(s.path, data)
}

// Clear removes the document. Clearing a missing checkpoint is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "checkpoint: remove %s", s.path)
	}
	return nil
}

// writeAtomic writes data to a temporary file in the directory of path,
// syncs it and renames it over path. A crash at any point leaves either the
// old or the new document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "checkpoint: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return eris.Wrap(err, "checkpoint: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return eris.Wrap(err, "checkpoint: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return eris.Wrap(err, "checkpoint: close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return eris.Wrapf(err, "checkpoint: replace %s", path)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry so the rename survives a power loss.
// Not all platforms support it; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
