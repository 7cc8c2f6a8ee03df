package buffet

import (
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/taskbuffet/buffet/internal/errors"
)

// Format selects the on-disk encoding of a buffet.
type Format string

const (
	FormatJSON   Format = "json"
	FormatJSONGz Format = "json.gz"
	FormatBolt   Format = "bolt"
)

// ValidFormats lists the formats accepted by NewStore.
var ValidFormats = []Format{FormatJSON, FormatJSONGz, FormatBolt}

// Store persists a buffet at a shared path. Every method must be called
// while the guarding lock is held.
type Store interface {
	// Load reads the buffet. It returns errors.ErrBuffetNotFound when none
	// exists and errors.ErrCorruptStatus when the stored data cannot be parsed.
	Load() (*Buffet, error)

	// Save replaces the stored buffet atomically. Failures wrap errors.ErrPersist.
	Save(b *Buffet) error

	// Path returns the location of the stored buffet.
	Path() string
}

// NewStore returns the store for format at path. fs is only used by the
// JSON formats; nil means the OS filesystem.
func NewStore(format Format, path string, fs afero.Fs) (Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	switch format {
	case FormatJSON, "":
		return NewFileStore(fs, path, false), nil
	case FormatJSONGz:
		return NewFileStore(fs, path, true), nil
	case FormatBolt:
		return NewBoltStore(path), nil
	default:
		return nil, fmt.Errorf("%w: unknown buffet format %q", errors.ErrInvalidInput, format)
	}
}

// OpenOrCreate loads the buffet from s, creating and saving it from seed if
// none exists yet. The second return value reports whether this call created
// it. The caller must hold the lock for the whole call, which is what makes
// the check-then-create safe when many workers bootstrap at once.
func OpenOrCreate(s Store, seed Seed, createdBy string) (*Buffet, bool, error) {
	b, err := s.Load()
	if err == nil {
		return b, false, nil
	}
	if !errors.Is(err, errors.ErrBuffetNotFound) {
		return nil, false, err
	}

	if seed == nil {
		return nil, false, fmt.Errorf("%w: %s does not exist", errors.ErrNoTaskSource, s.Path())
	}
	specs, err := seed()
	if err != nil {
		return nil, false, fmt.Errorf("load task source: %w", err)
	}

	b, err = New(specs, createdBy, time.Now())
	if err != nil {
		return nil, false, err
	}
	if err := s.Save(b); err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func corrupt(path string, cause error) error {
	return errors.NewStoreError("load", fmt.Errorf("%w: %v", errors.ErrCorruptStatus, cause)).WithPath(path)
}

func persistFailed(path string, cause error) error {
	return errors.NewStoreError("save", fmt.Errorf("%w: %v", errors.ErrPersist, cause)).WithPath(path)
}
