package filelock

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

// Holder describes the process that last acquired a lock.
type Holder struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	Owner      string    `json:"owner,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// writeHolder records the current holder in the lock file. It is best effort:
// the lock is already held and nothing depends on the metadata.
func (l *Lock) writeHolder() {
	hostname, _ := os.Hostname()
	data, err := json.Marshal(Holder{
		PID:        os.Getpid(),
		Hostname:   hostname,
		Owner:      l.owner,
		AcquiredAt: l.acquiredAt.UTC(),
	})
	if err != nil {
		return
	}
	if err := l.file.Truncate(0); err != nil {
		return
	}
	_, _ = l.file.WriteAt(append(data, '\n'), 0)
}

// ReadHolder returns the last holder recorded in the lock file at path.
// It does not take the lock, so the result may be stale.
func ReadHolder(path string) (*Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &h, nil
}
