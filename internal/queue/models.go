package queue

import (
	"strings"
	"time"

	"stitch/internal/segments"
)

// Status represents the lifecycle of a merge task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StuckReason is the error message set when the sweep evicts a task whose
// worker stopped reporting progress.
const StuckReason = "worker heartbeat expired"

// DaemonStopReason is the error message set when a task is failed due to
// daemon shutdown.
const DaemonStopReason = "daemon stopped"

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is a final lifecycle state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskError records one classified failure attached to a task.
type TaskError struct {
	SegmentIndex int       `json:"segmentIndex"`
	Attempt      int       `json:"attempt"`
	Phase        string    `json:"phase"`
	Message      string    `json:"message"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Result describes the published output of a completed task. Either URL or
// Bytes is set, depending on the size-based publish routing. Bytes travel
// base64-encoded when the result crosses a JSON boundary.
type Result struct {
	URL     string `json:"url,omitempty"`
	Bytes   []byte `json:"bytes,omitempty"`
	Format  string `json:"format"`
	Size    int64  `json:"size"`
	IsLarge bool   `json:"isLarge,omitempty"`
}

// Task is the unit of dedup and lifecycle tracking. Its id is a content
// hash of the conversation id and the ordered segment descriptors, so an
// identical resubmission always resolves to the same record.
type Task struct {
	ID                  string
	ConversationID      string
	Segments            []segments.Segment
	TotalSegments       int
	ProcessedSegments   int
	Status              Status
	Errors              []TaskError
	Retries             int
	ErrorMessage        string
	QueuedAt            time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
	LastUpdated         time.Time
	ExpiresAt           *time.Time
	Result              *Result
}

// Progress is the high-frequency projection polled by callers, kept apart
// from the Task record so progress writes do not contend with state writes.
type Progress struct {
	TaskID               string    `json:"taskId"`
	CurrentPhase         string    `json:"currentPhase"`
	Details              string    `json:"details"`
	ProcessedSegments    int       `json:"processedSegments"`
	TotalSegments        int       `json:"totalSegments"`
	MergeProgressPercent float64   `json:"mergeProgressPercent"`
	ElapsedSeconds       float64   `json:"elapsedSeconds"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// HealthSummary describes aggregated task counts per lifecycle state.
type HealthSummary struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
