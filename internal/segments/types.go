package segments

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Segment describes one speaker turn of remote audio: a source URL plus the
// time range to keep. Segments are immutable inputs; EndTime must exceed
// StartTime.
type Segment struct {
	URL                  string  `json:"url"`
	StartTime            float64 `json:"startTime"`
	EndTime              float64 `json:"endTime"`
	SpeakerLabel         string  `json:"speakerLabel"`
	PreviousSpeakerLabel string  `json:"previousSpeakerLabel,omitempty"`
}

// Duration returns the trimmed length of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Validate checks the segment invariants.
func (s Segment) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("segment url must be set")
	}
	if s.StartTime < 0 {
		return errors.New("segment start time must not be negative")
	}
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("segment end time %.3f must exceed start time %.3f", s.EndTime, s.StartTime)
	}
	return nil
}

// ValidateAll checks every segment in a request.
func ValidateAll(list []Segment) error {
	if len(list) == 0 {
		return errors.New("at least one segment is required")
	}
	for i, seg := range list {
		if err := seg.Validate(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}

// TotalDuration sums the trimmed duration of all segments in seconds.
func TotalDuration(list []Segment) float64 {
	var total float64
	for _, seg := range list {
		total += seg.Duration()
	}
	return total
}

// Processed is the normalized and trimmed audio file produced for one input
// segment. The file is owned by the workspace until the merger consumes and
// deletes it.
type Processed struct {
	Index     int
	LocalPath string
	ByteSize  int64
}

// AttemptError records one failed processing attempt for a segment.
type AttemptError struct {
	SegmentIndex int       `json:"segmentIndex"`
	Attempt      int       `json:"attempt"`
	Phase        string    `json:"phase"`
	Message      string    `json:"message"`
	OccurredAt   time.Time `json:"occurredAt"`
}
