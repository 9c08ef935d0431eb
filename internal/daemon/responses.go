package daemon

import (
	"time"

	"stitch/internal/queue"
)

// taskResponse is the wire shape of a stored task record.
type taskResponse struct {
	TaskID            string            `json:"taskId"`
	ConversationID    string            `json:"conversationId"`
	Status            string            `json:"status"`
	TotalSegments     int               `json:"totalSegments"`
	ProcessedSegments int               `json:"processedSegments"`
	Retries           int               `json:"retries"`
	ErrorMessage      string            `json:"errorMessage,omitempty"`
	Errors            []queue.TaskError `json:"errors,omitempty"`
	QueuedAt          time.Time         `json:"queuedAt"`
	ProcessingStarted *time.Time        `json:"processingStartedAt,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	FailedAt          *time.Time        `json:"failedAt,omitempty"`
	LastUpdated       time.Time         `json:"lastUpdated"`
	ExpiresAt         *time.Time        `json:"expiresAt,omitempty"`
	Result            *queue.Result     `json:"result,omitempty"`
}

func taskPayload(task *queue.Task) taskResponse {
	return taskResponse{
		TaskID:            task.ID,
		ConversationID:    task.ConversationID,
		Status:            string(task.Status),
		TotalSegments:     task.TotalSegments,
		ProcessedSegments: task.ProcessedSegments,
		Retries:           task.Retries,
		ErrorMessage:      task.ErrorMessage,
		Errors:            task.Errors,
		QueuedAt:          task.QueuedAt,
		ProcessingStarted: task.ProcessingStartedAt,
		CompletedAt:       task.CompletedAt,
		FailedAt:          task.FailedAt,
		LastUpdated:       task.LastUpdated,
		ExpiresAt:         task.ExpiresAt,
		Result:            task.Result,
	}
}
