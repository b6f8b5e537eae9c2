package recorder

import (
	"time"

	"RebalanceSentinel/internal/model"
)

// Recorder persists settled snapshots for history and performance analysis.
type Recorder interface {
	RecordSnapshot(snap *model.Snapshot) error
	// ValueHistory returns the account's recorded total values since the
	// given time, oldest first, at most limit points.
	ValueHistory(account string, since time.Time, limit int) ([]model.ValuePoint, error)
	// Prune deletes snapshots settled before the cutoff and returns how many were removed.
	Prune(before time.Time) (int64, error)
	Close() error
}
