package scheduler

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

// ReloadFeed asks the ingestion service to fetch a claimed feed, records the
// new job and schedules the next poll. The polling flag is cleared on the
// way out whatever happened.
func (s *Scheduler) ReloadFeed(ctx context.Context, feedID uuid.UUID) (err error) {
	defer func() {
		if rerr := s.repomanager.Feeds(s.db).ReleasePolling(context.WithoutCancel(ctx), feedID); rerr != nil {
			s.log.Error(ctx, "release polling failed", "feed_id", feedID, "error", rerr)
		}
	}()

	feed, err := s.repomanager.Feeds(s.db).Get(ctx, feedID)
	if err != nil {
		return fmt.Errorf("load feed %s: %w", feedID, err)
	}
	if feed.ProfileID == nil {
		return fmt.Errorf("feed %s has no profile", feedID)
	}

	job, err := s.ingestion.ReloadFeed(ctx, *feed.ProfileID, feedID)
	if err != nil {
		return fmt.Errorf("reload feed %s: %w", feedID, err)
	}

	now := s.now()
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Feeds(tx)
		f, err := repo.GetForUpdate(ctx, feedID)
		if err != nil {
			return err
		}
		jobID := job.ID
		f.Polling = false
		f.JobMetadata = job.Document
		f.ActiveJobID = &jobID
		f.ScheduleFrom(now)
		return repo.Update(ctx, f)
	})
	if err != nil {
		return fmt.Errorf("store job %s for feed %s: %w", job.ID, feedID, err)
	}
	s.log.Info(ctx, "feed reload started", "feed_id", feedID, "job_id", job.ID)

	meta, err := s.ingestion.GetFeed(ctx, feedID)
	if err != nil {
		return fmt.Errorf("refresh feed %s: %w", feedID, err)
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Feeds(tx)
		f, err := repo.GetForUpdate(ctx, feedID)
		if err != nil {
			return err
		}
		f.SetMetadata(meta)
		return repo.Update(ctx, f)
	})
}

// UpdateFeed mirrors the state of jobID into the feed. It does nothing when
// the feed has moved on to another job, either before the remote calls or
// by the time the row is locked.
func (s *Scheduler) UpdateFeed(ctx context.Context, feedID, jobID uuid.UUID) error {
	feed, err := s.repomanager.Feeds(s.db).Get(ctx, feedID)
	if err != nil {
		return fmt.Errorf("load feed %s: %w", feedID, err)
	}
	if !tracks(feed, jobID) {
		s.log.Debug(ctx, "stale update task", "feed_id", feedID, "job_id", jobID)
		return nil
	}

	job, err := s.ingestion.GetJob(ctx, feedID, jobID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", jobID, err)
	}
	meta, err := s.ingestion.GetFeed(ctx, feedID)
	if err != nil {
		return fmt.Errorf("refresh feed %s: %w", feedID, err)
	}

	applied := false
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Feeds(tx)
		f, err := repo.GetForUpdate(ctx, feedID)
		if err != nil {
			return err
		}
		if !tracks(f, jobID) {
			return nil
		}
		f.JobMetadata = job.Document
		f.SetMetadata(meta)
		if job.IsTerminal() {
			f.ActiveJobID = nil
		}
		applied = true
		return repo.Update(ctx, f)
	})
	if err != nil {
		return fmt.Errorf("store job %s for feed %s: %w", jobID, feedID, err)
	}
	if !applied || !job.IsTerminal() {
		return nil
	}

	s.log.Info(ctx, "feed job finished", "feed_id", feedID, "job_id", jobID, "state", job.State)
	if err := s.archive.ArchiveJob(ctx, feedID, job); err != nil {
		s.log.Warn(ctx, "archive job failed", "feed_id", feedID, "job_id", jobID, "error", err)
	}
	return nil
}

func tracks(f *models.Feed, jobID uuid.UUID) bool {
	return f.ActiveJobID != nil && *f.ActiveJobID == jobID
}
