package models

import (
	"time"

	"github.com/google/uuid"
)

// Feed is the local mirror of a remote feed plus its polling state.
//
// NextPollingTime is nil exactly when PollingScheduleMinute is 0.
// ActiveJobID is set while a remote job is outstanding, and Polling while
// a reload was dispatched but has not completed.
type Feed struct {
	ID                    uuid.UUID  `json:"id"`
	Title                 string     `json:"title"`
	Metadata              Document   `json:"obstracts_feed_metadata"`
	ProfileID             *uuid.UUID `json:"profile_id"`
	IsPublic              bool       `json:"is_public"`
	PollingScheduleMinute int        `json:"polling_schedule_minute"`
	JobMetadata           Document   `json:"job_metadata"`
	NextPollingTime       *time.Time `json:"next_polling_time"`
	Polling               bool       `json:"polling"`
	ActiveJobID           *uuid.UUID `json:"active_job_id"`
}

// SetMetadata replaces the remote metadata and keeps Title in step with it.
func (f *Feed) SetMetadata(doc Document) {
	if doc == nil {
		doc = Document{}
	}
	f.Metadata = doc
	f.Title = doc.String("title")
}

// ScheduleFrom recomputes NextPollingTime relative to now.
func (f *Feed) ScheduleFrom(now time.Time) {
	if f.PollingScheduleMinute <= 0 {
		f.PollingScheduleMinute = 0
		f.NextPollingTime = nil
		return
	}
	next := now.Add(time.Duration(f.PollingScheduleMinute) * time.Minute)
	f.NextPollingTime = &next
}

// TeamFeed is a feed as seen by a team member.
type TeamFeed struct {
	Feed
	IsSubscribed bool `json:"is_subscribed"`
}

// SubscribedFeed is the projection returned to team API keys.
type SubscribedFeed struct {
	ID              uuid.UUID  `json:"id"`
	ProfileID       *uuid.UUID `json:"profile_id"`
	Metadata        Document   `json:"obstracts_feed_metadata"`
	NextPollingTime *time.Time `json:"next_polling_time"`
}

// Subscription links a team to a public feed.
type Subscription struct {
	ID     uuid.UUID `json:"id"`
	FeedID uuid.UUID `json:"feed_id"`
	TeamID uuid.UUID `json:"team_id"`
}
