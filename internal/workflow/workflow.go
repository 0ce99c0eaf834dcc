// Package workflow holds the value types produced by the generators and
// consumed by workers: WorkFlow, WorkStep, and their status machine.
package workflow

import (
	"time"

	"github.com/teris-io/shortid"

	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
)

// Action identifies which operation a WorkStep performs.
type Action int

const (
	Copy Action = iota
	Delete
	Scan
	GenerateMetadata
	GeneratePreview
	GenerateThumbnail
)

func (a Action) String() string {
	switch a {
	case Copy:
		return "COPY"
	case Delete:
		return "DELETE"
	case Scan:
		return "SCAN"
	case GenerateMetadata:
		return "GENERATE_METADATA"
	case GeneratePreview:
		return "GENERATE_PREVIEW"
	case GenerateThumbnail:
		return "GENERATE_THUMBNAIL"
	default:
		return "UNKNOWN"
	}
}

// Status is the work-step status machine: IDLE -> WORKING -> {DONE,
// ERROR, SKIPPED}. There is no transition back to IDLE.
type Status int

const (
	Idle Status = iota
	Working
	Done
	ErrorStatus
	Skipped
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Working:
		return "WORKING"
	case Done:
		return "DONE"
	case ErrorStatus:
		return "ERROR"
	case Skipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// Source identifies what triggered a WorkFlow's creation.
type Source int

const (
	LocalMediaItem Source = iota
)

func (s Source) String() string {
	switch s {
	case LocalMediaItem:
		return "LOCAL_MEDIA_ITEM"
	default:
		return "UNKNOWN"
	}
}

// Step is one unit of work assigned to a single worker. Target is the
// storage.Object the action operates against; File is the subject file.
type Step struct {
	Action   Action
	File     storage.File
	Target   *storage.Object
	Priority int

	Status   Status
	Progress float64
}

// WorkFlow is an ordered sequence of steps produced by a generator.
// Finished/Success are set by the dispatcher once every step has
// settled, not by the generator that created the flow.
type WorkFlow struct {
	ID       string
	Steps    []*Step
	Priority int
	Source   Source
	Created  time.Time

	Finished bool
	Success  bool
}

// Result is what a worker returns for one step: workers never throw,
// they always resolve a Result.
type Result struct {
	Status   Status
	Messages []string
}

// sidgen is overridable in tests that need deterministic ids.
var sidgen = func() string {
	id, err := shortid.Generate()
	if err != nil {
		// shortid only fails on an exhausted internal counter under
		// extreme concurrency; fall back to a timestamp-derived
		// fallback rather than returning an empty suffix.
		return time.Now().Format("150405.000000000")
	}
	return id
}

// NewID builds the "<path>_<random>" id used for WorkFlow.ID.
func NewID(path string) string {
	return path + "_" + sidgen()
}

// NewCopyFlow builds the single-step COPY flow emitted by onAdd/onChange.
func NewCopyFlow(path string, file storage.File, target *storage.Object) *WorkFlow {
	return &WorkFlow{
		ID: NewID(path),
		Steps: []*Step{{
			Action:   Copy,
			File:     file,
			Target:   target,
			Priority: 1,
		}},
		Source:  LocalMediaItem,
		Created: time.Now(),
	}
}

// NewDeleteFlow builds the single-step DELETE flow emitted by onDelete
// per target.
func NewDeleteFlow(path string, file storage.File, target *storage.Object) *WorkFlow {
	return &WorkFlow{
		ID: NewID(path),
		Steps: []*Step{{
			Action:   Delete,
			File:     file,
			Target:   target,
			Priority: 1,
		}},
		Source:  LocalMediaItem,
		Created: time.Now(),
	}
}
