package recorder

import (
	"time"

	"RebalanceSentinel/internal/model"
)

// NoopRecorder is used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordSnapshot(_ *model.Snapshot) error { return nil }
func (n *NoopRecorder) ValueHistory(_ string, _ time.Time, _ int) ([]model.ValuePoint, error) {
	return nil, nil
}
func (n *NoopRecorder) Prune(_ time.Time) (int64, error) { return 0, nil }
func (n *NoopRecorder) Close() error                     { return nil }
