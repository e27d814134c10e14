package store

import "time"

type AILogStatus string

const (
	AILogStatusQueued  AILogStatus = "queued"
	AILogStatusSkipped AILogStatus = "skipped"
)

// AILog is an audit entry written by the auto-reply pipeline.
type AILog struct {
	ID          string
	Status      AILogStatus
	RequestJSON string
	CreatedAt   time.Time
}

type FindAILog struct {
	Status *AILogStatus
	Limit  *int
}
