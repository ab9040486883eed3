// pkg/schema/messages.go
package schema

// TranscribeJob is the unit of work carried over the job queue. The token is
// the delivery identifier clients poll with; it doubles as the broker message
// id so redundant publishes of the same job deduplicate.
type TranscribeJob struct {
	Token        string `json:"token"`
	JobID        int64  `json:"job_id"`
	ArtifactPath string `json:"artifact_path"`
	EnqueuedAt   int64  `json:"enqueued_at"`
}

// TaskStatus values exposed by the status query surface.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)
