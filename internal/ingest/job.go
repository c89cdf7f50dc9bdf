package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nabachouhan/gatishakti3.0/internal/catalog"
)

// Mode selects whether a job creates a new layer or replaces an existing one.
type Mode string

const (
	ModeCreate  Mode = "create"
	ModeReplace Mode = "replace"
)

// ParseMode accepts "create" or "replace".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCreate, ModeReplace:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown load mode %q", s)
}

// State is a job's position in the pipeline. Transitions only move forward.
type State string

const (
	StateReceived   State = "received"
	StateStaged     State = "staged"
	StateExtracted  State = "extracted"
	StateLoaded     State = "loaded"
	StateReconciled State = "reconciled"
	StateFailed     State = "failed"
)

var nextState = map[State]State{
	StateReceived:  StateStaged,
	StateStaged:    StateExtracted,
	StateExtracted: StateLoaded,
	StateLoaded:    StateReconciled,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateReconciled || s == StateFailed
}

// Request is what a caller submits: one archive for one (department, layer).
type Request struct {
	Department  string
	Layer       string
	SRID        int
	Mode        Mode
	Title       *string
	Description *string
}

// Job is the ephemeral record of one request travelling through the pipeline.
// It is owned by a single goroutine and never persisted.
type Job struct {
	ID          string
	Request     Request
	Table       TableName
	ArchivePath string
	Format      ArchiveFormat
	ExtractDir  string
	Source      *GeometrySource
	Descriptor  catalog.GeometryTableDescriptor
	State       State
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

func newJob(req Request) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Request:   req,
		State:     StateReceived,
		StartedAt: time.Now(),
	}
}

// advance moves the job one stage forward.
func (j *Job) advance(to State) {
	if want, ok := nextState[j.State]; !ok || want != to {
		panic(fmt.Sprintf("ingest: illegal transition %s -> %s", j.State, to))
	}
	j.State = to
	if to.Terminal() {
		j.FinishedAt = time.Now()
	}
}

// fail records the terminal error. A failed job stays failed.
func (j *Job) fail(err error) error {
	if j.State.Terminal() {
		return j.Err
	}
	j.State = StateFailed
	j.Err = err
	j.FinishedAt = time.Now()
	return err
}

// Result is what the orchestrator reports back for a finished job.
type Result struct {
	JobID        string
	Department   string
	Layer        string
	Table        string
	SRID         int
	GeometryType string
	State        State
	Duration     time.Duration
}

func (j *Job) result() Result {
	return Result{
		JobID:        j.ID,
		Department:   j.Table.Schema,
		Layer:        j.Table.Table,
		Table:        j.Table.String(),
		SRID:         j.Descriptor.SRID,
		GeometryType: j.Descriptor.GeometryType,
		State:        j.State,
		Duration:     j.FinishedAt.Sub(j.StartedAt),
	}
}
