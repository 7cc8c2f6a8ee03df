package buffet

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/taskbuffet/buffet/internal/errors"
)

// Bucket names of the bolt layout.
const (
	BucketMeta  = "meta"
	BucketTasks = "tasks"
)

// Keys in the meta bucket.
var (
	keyVersion   = []byte("version")
	keyCreatedAt = []byte("created_at")
	keyCreatedBy = []byte("created_by")
)

// BoltStore keeps the buffet in a bbolt database: a meta bucket and a tasks
// bucket keyed by big-endian creation order, one JSON document per task.
// The database is opened for each call and closed before returning, so no
// handle outlives the critical section that used it.
type BoltStore struct {
	path        string
	openTimeout time.Duration
}

// NewBoltStore creates a BoltStore at path.
func NewBoltStore(path string) *BoltStore {
	return &BoltStore{path: path, openTimeout: 5 * time.Second}
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Load reads the buffet from the database.
func (s *BoltStore) Load() (*Buffet, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrBuffetNotFound, s.path)
		}
		return nil, errors.NewStoreError("load", err).WithPath(s.path)
	}
	if info.Size() == 0 {
		return nil, corrupt(s.path, fmt.Errorf("empty file"))
	}

	db, err := bolt.Open(s.path, 0644, &bolt.Options{Timeout: s.openTimeout, ReadOnly: true})
	if err != nil {
		if isBoltCorruption(err) {
			return nil, corrupt(s.path, err)
		}
		return nil, errors.NewStoreError("load", err).WithPath(s.path)
	}
	defer func() { _ = db.Close() }()

	var b Buffet
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(BucketMeta))
		if meta == nil {
			if noBuckets(tx) {
				return errUncommitted
			}
			return fmt.Errorf("missing %s bucket", BucketMeta)
		}
		version, err := decodeInt(meta.Get(keyVersion))
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		b.Version = version
		if err := b.CreatedAt.UnmarshalText(meta.Get(keyCreatedAt)); err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
		b.CreatedBy = string(meta.Get(keyCreatedBy))

		tasks := tx.Bucket([]byte(BucketTasks))
		if tasks == nil {
			return fmt.Errorf("missing %s bucket", BucketTasks)
		}
		b.Tasks = make([]*Task, 0, tasks.Stats().KeyN)
		return tasks.ForEach(func(k, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("task %x: %w", k, err)
			}
			b.Tasks = append(b.Tasks, &t)
			return nil
		})
	})
	if errors.Is(err, errUncommitted) {
		return nil, fmt.Errorf("%w: %s holds no committed buffet", errors.ErrBuffetNotFound, s.path)
	}
	if err != nil {
		return nil, corrupt(s.path, err)
	}

	if b.Version > FormatVersion {
		return nil, corrupt(s.path, fmt.Errorf("unsupported version %d", b.Version))
	}
	if err := b.Validate(); err != nil {
		return nil, corrupt(s.path, err)
	}
	return &b, nil
}

// Save replaces the stored buffet in a single bolt transaction. A file
// created by a failed first Save is removed again.
func (s *BoltStore) Save(b *Buffet) (err error) {
	_, statErr := os.Stat(s.path)
	if os.IsNotExist(statErr) {
		defer func() {
			if err != nil {
				_ = os.Remove(s.path)
			}
		}()
	}

	db, err := bolt.Open(s.path, 0644, &bolt.Options{Timeout: s.openTimeout})
	if err != nil {
		return persistFailed(s.path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(BucketMeta))
		if err != nil {
			return err
		}
		if err := meta.Put(keyVersion, encodeInt(b.Version)); err != nil {
			return err
		}
		createdAt, err := b.CreatedAt.MarshalText()
		if err != nil {
			return err
		}
		if err := meta.Put(keyCreatedAt, createdAt); err != nil {
			return err
		}
		if err := meta.Put(keyCreatedBy, []byte(b.CreatedBy)); err != nil {
			return err
		}

		if tx.Bucket([]byte(BucketTasks)) != nil {
			if err := tx.DeleteBucket([]byte(BucketTasks)); err != nil {
				return err
			}
		}
		tasks, err := tx.CreateBucket([]byte(BucketTasks))
		if err != nil {
			return err
		}
		for i, t := range b.Tasks {
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode task %s: %w", t.ID, err)
			}
			if err := tasks.Put(encodeInt(i), data); err != nil {
				return err
			}
		}
		return nil
	})
	closeErr := db.Close()
	if err != nil {
		return persistFailed(s.path, err)
	}
	if closeErr != nil {
		return persistFailed(s.path, closeErr)
	}
	return nil
}

// errUncommitted marks a database that was initialized but never received
// a committed buffet.
var errUncommitted = errors.New("no buckets")

func noBuckets(tx *bolt.Tx) bool {
	empty := true
	_ = tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
		empty = false
		return nil
	})
	return empty
}

func encodeInt(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

func decodeInt(b []byte) (int, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return int(binary.BigEndian.Uint64(b)), nil
}

func isBoltCorruption(err error) bool {
	return errors.Is(err, bolt.ErrInvalid) ||
		errors.Is(err, bolt.ErrChecksum) ||
		errors.Is(err, bolt.ErrVersionMismatch)
}
