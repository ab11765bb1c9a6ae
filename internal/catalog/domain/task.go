package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/catalog/pkg/telemetry/correlation"
)

type TaskKind string

const (
	TaskUpsertOne  TaskKind = "catalog.upsert_one"
	TaskUpsertMany TaskKind = "catalog.upsert_many"
	TaskRefresh    TaskKind = "catalog.refresh"
)

// Task is the reconciliation payload. It is plain JSON so any queue driver
// can carry it.
type Task struct {
	ID            string    `json:"id"`
	Kind          TaskKind  `json:"kind"`
	Items         []Item    `json:"items,omitempty"`
	PopulateCache bool      `json:"populate_cache"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	correlation.Stamp
	// Deliveries counts prior deliveries reported by the queue.
	Deliveries int `json:"-"`
}

// TaskScheduler hands tasks to the reconciliation worker. Schedule must not
// block on task execution.
type TaskScheduler interface {
	Schedule(ctx context.Context, task Task) error
}

// NewTask stamps a task with a fresh id and the caller's correlation and
// trace identifiers.
func NewTask(ctx context.Context, kind TaskKind, items []Item, populateCache bool) Task {
	return Task{
		ID:            ulid.Make().String(),
		Kind:          kind,
		Items:         items,
		PopulateCache: populateCache,
		EnqueuedAt:    time.Now().UTC(),
		Stamp:         correlation.StampFromContext(ctx),
	}
}

func (t Task) Validate() error {
	switch t.Kind {
	case TaskUpsertOne:
		if len(t.Items) != 1 {
			return fmt.Errorf("%w: %s expects exactly one item, got %d", ErrTaskDecode, t.Kind, len(t.Items))
		}
	case TaskUpsertMany:
		if len(t.Items) == 0 {
			return fmt.Errorf("%w: %s expects items", ErrTaskDecode, t.Kind)
		}
	case TaskRefresh:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrTaskDecode, t.Kind)
	}
	return nil
}

func EncodeTask(t Task) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTask parses and validates a payload; all failures wrap ErrTaskDecode.
func DecodeTask(payload []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrTaskDecode, err)
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}
