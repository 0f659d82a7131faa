package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Remote job states.
const (
	JobStateQueued           = "queued"
	JobStateProcessing       = "processing"
	JobStateProcessed        = "processed"
	JobStateProcessingFailed = "processing_failed"
	JobStateRetrieveFailed   = "retrieve_failed"
)

// Job is an asynchronous unit of remote ingestion work. Document holds the
// full payload as returned by the ingestion service.
type Job struct {
	ID       uuid.UUID
	FeedID   uuid.UUID
	State    string
	Document Document
}

// JobFromDocument extracts the identifying fields of a job payload.
func JobFromDocument(doc Document) (*Job, error) {
	id, err := uuid.Parse(doc.String("id"))
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	job := &Job{ID: id, State: doc.String("state"), Document: doc}
	if raw := doc.String("feed_id"); raw != "" {
		if job.FeedID, err = uuid.Parse(raw); err != nil {
			return nil, fmt.Errorf("job feed_id: %w", err)
		}
	}
	return job, nil
}

// IsTerminal reports whether the job will not change state any more.
func (j *Job) IsTerminal() bool {
	switch j.State {
	case JobStateProcessed, JobStateProcessingFailed, JobStateRetrieveFailed:
		return true
	}
	return false
}
