package buffet

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/taskbuffet/buffet/internal/errors"
)

// FileStore keeps the buffet as a single JSON document, optionally gzip
// compressed. Saves write a temporary sibling and rename it into place so a
// reader never sees a partial document.
type FileStore struct {
	fs       afero.Fs
	path     string
	compress bool
}

// NewFileStore creates a FileStore at path on fs. A nil fs means the OS
// filesystem.
func NewFileStore(fs afero.Fs, path string, compress bool) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs, path: path, compress: compress}
}

// Path returns the buffet file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and validates the buffet file.
func (s *FileStore) Load() (*Buffet, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrBuffetNotFound, s.path)
		}
		return nil, errors.NewStoreError("load", err).WithPath(s.path)
	}

	if s.compress {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, corrupt(s.path, err)
		}
		data, err = io.ReadAll(zr)
		_ = zr.Close()
		if err != nil {
			return nil, corrupt(s.path, err)
		}
	}

	var b Buffet
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, corrupt(s.path, err)
	}
	if b.Version > FormatVersion {
		return nil, corrupt(s.path, fmt.Errorf("unsupported version %d", b.Version))
	}
	if b.Tasks == nil {
		b.Tasks = []*Task{}
	}
	if err := b.Validate(); err != nil {
		return nil, corrupt(s.path, err)
	}
	return &b, nil
}

// Save writes the buffet atomically.
func (s *FileStore) Save(b *Buffet) error {
	data, err := s.encode(b)
	if err != nil {
		return persistFailed(s.path, fmt.Errorf("encode buffet: %w", err))
	}

	tmp := s.path + ".tmp"
	if err := s.writeSynced(tmp, data); err != nil {
		_ = s.fs.Remove(tmp) // best-effort cleanup
		return persistFailed(s.path, fmt.Errorf("write temp file: %w", err))
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp) // best-effort cleanup
		return persistFailed(s.path, fmt.Errorf("rename temp file: %w", err))
	}
	if err := s.syncDir(); err != nil {
		return persistFailed(s.path, fmt.Errorf("sync directory: %w", err))
	}
	return nil
}

// syncDir fsyncs the directory holding the buffet so the rename survives a
// host crash. Filesystems that cannot sync directories report EINVAL, which
// is ignored.
func (s *FileStore) syncDir() error {
	d, err := s.fs.Open(filepath.Dir(s.path))
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		_ = d.Close()
		return err
	}
	return d.Close()
}

func (s *FileStore) encode(b *Buffet) ([]byte, error) {
	if !s.compress {
		return json.MarshalIndent(b, "", "  ")
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeSynced writes data to name and fsyncs it.
func (s *FileStore) writeSynced(name string, data []byte) error {
	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
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
