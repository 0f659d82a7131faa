package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/ingestion"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/feeds"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// CreateFeedInput is an admin request to register and start ingesting a feed.
type CreateFeedInput struct {
	ProfileID             uuid.UUID `json:"profile_id"`
	URL                   string    `json:"url"`
	IncludeRemoteBlogs    bool      `json:"include_remote_blogs"`
	IsPublic              bool      `json:"is_public"`
	PollingScheduleMinute int       `json:"polling_schedule_minute"`
	PrettyURL             string    `json:"pretty_url"`
	Description           string    `json:"description"`
	Title                 string    `json:"title"`
}

func (in *CreateFeedInput) validate() error {
	var problems []string
	if in.ProfileID == uuid.Nil {
		problems = append(problems, "profile_id is required")
	}
	if strings.TrimSpace(in.URL) == "" {
		problems = append(problems, "url is required")
	}
	if len(in.URL) > 255 {
		problems = append(problems, "url must be at most 255 characters")
	}
	if in.PollingScheduleMinute < 0 {
		problems = append(problems, "polling_schedule_minute must not be negative")
	}
	if len(problems) > 0 {
		return common.NewValidationError(strings.Join(problems, "; "))
	}
	return nil
}

// SkeletonFeedInput registers a feed that is never fetched remotely.
type SkeletonFeedInput struct {
	URL         string `json:"url"`
	PrettyURL   string `json:"pretty_url"`
	Description string `json:"description"`
	Title       string `json:"title"`
}

// UpdateFeedInput carries the locally owned settings of a feed. Nil fields
// are left unchanged.
type UpdateFeedInput struct {
	ProfileID             *uuid.UUID `json:"profile_id"`
	IsPublic              *bool      `json:"is_public"`
	PollingScheduleMinute *int       `json:"polling_schedule_minute"`
}

type FeedService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	ingestion   ingestion.Service
	log         logging.Logger
	now         func() time.Time
}

func NewFeedService(db *sql.DB, rm repomanager.RepositoryManager, ing ingestion.Service, log logging.Logger) *FeedService {
	return &FeedService{
		db:          db,
		repomanager: rm,
		ingestion:   ing,
		log:         log.With("module", "feeds"),
		now:         time.Now,
	}
}

// List returns one page of the whole catalog for administrators.
func (s *FeedService) List(ctx context.Context, filter feeds.ListFilter, page PageRequest) (*Page[*models.Feed], error) {
	page = page.normalized(AdminPageSize, AdminMaxPageSize)
	filter.Limit, filter.Offset = page.Size, page.offset()

	items, total, err := s.repomanager.Feeds(s.db).List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return newPage(items, total, page)
}

func (s *FeedService) Get(ctx context.Context, id uuid.UUID) (*models.Feed, error) {
	return s.repomanager.Feeds(s.db).Get(ctx, id)
}

// Create registers the feed remotely, mirrors its metadata and stores the
// initial job as the outstanding one.
func (s *FeedService) Create(ctx context.Context, in CreateFeedInput) (*models.Feed, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	job, err := s.ingestion.CreateFeed(ctx, ingestion.CreateFeedRequest{
		ProfileID:          in.ProfileID,
		URL:                in.URL,
		IncludeRemoteBlogs: in.IncludeRemoteBlogs,
		PrettyURL:          in.PrettyURL,
		Description:        in.Description,
		Title:              in.Title,
	})
	if err != nil {
		return nil, err
	}
	if job.FeedID == uuid.Nil {
		return nil, fmt.Errorf("%w: job %s carries no feed id", common.ErrUpstream, job.ID)
	}

	meta, err := s.ingestion.GetFeed(ctx, job.FeedID)
	if err != nil {
		return nil, err
	}

	profileID := in.ProfileID
	jobID := job.ID
	feed := &models.Feed{
		ID:                    job.FeedID,
		ProfileID:             &profileID,
		IsPublic:              in.IsPublic,
		PollingScheduleMinute: in.PollingScheduleMinute,
		JobMetadata:           job.Document,
		ActiveJobID:           &jobID,
	}
	feed.SetMetadata(meta)
	feed.ScheduleFrom(s.now())

	if err := s.repomanager.Feeds(s.db).Create(ctx, feed); err != nil {
		return nil, fmt.Errorf("store feed %s: %w", feed.ID, err)
	}

	s.log.Info(ctx, "feed created", "feed_id", feed.ID, "job_id", job.ID, "schedule", feed.PollingScheduleMinute)
	return feed, nil
}

// CreateSkeleton registers a public feed with polling disabled and no job.
func (s *FeedService) CreateSkeleton(ctx context.Context, in SkeletonFeedInput) (*models.Feed, error) {
	if strings.TrimSpace(in.URL) == "" || strings.TrimSpace(in.Title) == "" {
		return nil, common.NewValidationError("url and title are required")
	}

	meta, err := s.ingestion.CreateSkeletonFeed(ctx, ingestion.SkeletonFeedRequest(in))
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(meta.String("id"))
	if err != nil {
		return nil, fmt.Errorf("%w: skeleton feed id: %v", common.ErrUpstream, err)
	}

	feed := &models.Feed{ID: id, IsPublic: true, JobMetadata: models.Document{}}
	feed.SetMetadata(meta)
	feed.ScheduleFrom(s.now())

	if err := s.repomanager.Feeds(s.db).Create(ctx, feed); err != nil {
		return nil, fmt.Errorf("store feed %s: %w", feed.ID, err)
	}

	s.log.Info(ctx, "skeleton feed created", "feed_id", feed.ID)
	return feed, nil
}

// Update applies in, refreshes the remote metadata and keeps
// next_polling_time consistent with the schedule.
func (s *FeedService) Update(ctx context.Context, id uuid.UUID, in UpdateFeedInput) (*models.Feed, error) {
	if in.PollingScheduleMinute != nil && *in.PollingScheduleMinute < 0 {
		return nil, common.NewValidationError("polling_schedule_minute must not be negative")
	}

	ok, err := s.repomanager.Feeds(s.db).Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrNotFound
	}

	meta, err := s.ingestion.GetFeed(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *models.Feed
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Feeds(tx)
		feed, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if in.ProfileID != nil {
			pid := *in.ProfileID
			feed.ProfileID = &pid
		}
		if in.IsPublic != nil {
			feed.IsPublic = *in.IsPublic
		}
		rescheduled := false
		if in.PollingScheduleMinute != nil && *in.PollingScheduleMinute != feed.PollingScheduleMinute {
			feed.PollingScheduleMinute = *in.PollingScheduleMinute
			rescheduled = true
		}
		if rescheduled || (feed.PollingScheduleMinute > 0) != (feed.NextPollingTime != nil) {
			feed.ScheduleFrom(s.now())
		}
		feed.SetMetadata(meta)

		if err := repo.Update(ctx, feed); err != nil {
			return err
		}
		out = feed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the feed remotely first and then locally; subscriptions
// go with the local row.
func (s *FeedService) Delete(ctx context.Context, id uuid.UUID) error {
	ok, err := s.repomanager.Feeds(s.db).Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotFound
	}

	if err := s.ingestion.DeleteFeed(ctx, id); err != nil {
		return err
	}

	if err := s.repomanager.Feeds(s.db).Delete(ctx, id); err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	s.log.Info(ctx, "feed deleted", "feed_id", id)
	return nil
}

// ListForTeam returns public feeds annotated with the team's subscription
// state.
func (s *FeedService) ListForTeam(ctx context.Context, teamID uuid.UUID, filter feeds.TeamFilter, page PageRequest) (*Page[*models.TeamFeed], error) {
	page = page.normalized(TeamPageSize, TeamPageSize)
	filter.Limit, filter.Offset = page.Size, page.offset()

	items, total, err := s.repomanager.Feeds(s.db).ListForTeam(ctx, teamID, filter)
	if err != nil {
		return nil, fmt.Errorf("list team feeds: %w", err)
	}
	return newPage(items, total, page)
}

func (s *FeedService) GetForTeam(ctx context.Context, teamID, id uuid.UUID) (*models.TeamFeed, error) {
	return s.repomanager.Feeds(s.db).GetForTeam(ctx, teamID, id)
}

// SubscribedFeeds lists the feeds a team subscribes to, as exposed to team
// API keys.
func (s *FeedService) SubscribedFeeds(ctx context.Context, teamID uuid.UUID, page PageRequest) (*Page[*models.SubscribedFeed], error) {
	all, err := s.repomanager.Subscriptions(s.db).SubscribedFeeds(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("list subscribed feeds: %w", err)
	}
	return slicePage(all, page.normalized(TeamPageSize, TeamPageSize))
}
