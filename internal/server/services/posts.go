package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/ingestion"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	DefaultPostSort = "pubdate_descending"

	refSourceFeed   = "obstracts_feed_id"
	refSourceReport = "txt2stix_report_id"
)

// LatestQuery selects a page of recent posts.
type LatestQuery struct {
	Sort  string
	Title string
	Page  int
}

type PostService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	ingestion   ingestion.Service
	log         logging.Logger
}

func NewPostService(db *sql.DB, rm repomanager.RepositoryManager, ing ingestion.Service, log logging.Logger) *PostService {
	return &PostService{db: db, repomanager: rm, ingestion: ing, log: log.With("module", "posts")}
}

// Latest returns recent posts across the team's subscribed feeds, or across
// every feed when teamID is nil. Each post gets the local feed title.
func (s *PostService) Latest(ctx context.Context, teamID *uuid.UUID, q LatestQuery) (*ingestion.PostPage, error) {
	if q.Sort == "" {
		q.Sort = DefaultPostSort
	}
	query := ingestion.PostsQuery{Sort: q.Sort, Title: q.Title, Page: q.Page}

	titles := map[string]string{}
	if teamID != nil {
		subscribed, err := s.repomanager.Subscriptions(s.db).SubscribedFeeds(ctx, *teamID)
		if err != nil {
			return nil, fmt.Errorf("list subscribed feeds: %w", err)
		}
		query.FeedIDs = make([]uuid.UUID, 0, len(subscribed))
		for _, f := range subscribed {
			query.FeedIDs = append(query.FeedIDs, f.ID)
			titles[f.ID.String()] = f.Metadata.String("title")
		}
	} else {
		query.AllFeeds = true
	}

	page, err := s.ingestion.ListPosts(ctx, query)
	if err != nil {
		return nil, err
	}

	if teamID == nil {
		feeds, err := s.repomanager.Feeds(s.db).ListByIDs(ctx, postFeedIDs(page.Posts))
		if err != nil {
			return nil, fmt.Errorf("load post feeds: %w", err)
		}
		for _, f := range feeds {
			titles[f.ID.String()] = f.Title
		}
	}

	for _, post := range page.Posts {
		if title, ok := titles[post.String("feed_id")]; ok {
			post["feed_title"] = title
		} else {
			post["feed_title"] = nil
		}
	}
	return page, nil
}

// ByExtraction returns the posts whose reports mention objectID. Posts are
// annotated with their local feed; posts of feeds the caller cannot see are
// dropped. For a team only public feeds are visible, otherwise every local
// feed is, marked as subscribed.
func (s *PostService) ByExtraction(ctx context.Context, teamID *uuid.UUID, objectID string, page int) (models.Document, error) {
	resp, err := s.ingestion.ListReportsForObject(ctx, objectID, page)
	if err != nil {
		return nil, err
	}

	posts, err := s.resolveReports(ctx, resp["reports"])
	if err != nil {
		return nil, err
	}

	visible, err := s.visibleFeeds(ctx, teamID, postFeedIDs(posts))
	if err != nil {
		return nil, err
	}

	out := make([]models.Document, 0, len(posts))
	for _, post := range posts {
		feed, ok := visible[post.String("feed_id")]
		if !ok {
			continue
		}
		post["feed"] = feed
		out = append(out, post)
	}

	delete(resp, "reports")
	resp["posts"] = out
	return resp, nil
}

// resolveReports fetches the post behind each report. Reports without both
// the feed and report references are skipped.
func (s *PostService) resolveReports(ctx context.Context, raw any) ([]models.Document, error) {
	reports, _ := raw.([]any)
	posts := make([]models.Document, 0, len(reports))
	for _, r := range reports {
		report, ok := r.(map[string]any)
		if !ok {
			continue
		}
		feedID, postID := externalID(report, refSourceFeed), externalID(report, refSourceReport)
		if feedID == "" || postID == "" {
			s.log.Debug(ctx, "report without post references", "report_id", report["id"])
			continue
		}

		post, err := s.ingestion.GetPost(ctx, feedID, postID)
		if err != nil {
			return nil, err
		}
		if post == nil {
			post = models.Document{}
		}
		post["feed_id"] = feedID
		posts = append(posts, post)
	}
	return posts, nil
}

func (s *PostService) visibleFeeds(ctx context.Context, teamID *uuid.UUID, ids []uuid.UUID) (map[string]*models.TeamFeed, error) {
	visible := map[string]*models.TeamFeed{}
	if len(ids) == 0 {
		return visible, nil
	}

	feeds, err := s.repomanager.Feeds(s.db).ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load post feeds: %w", err)
	}

	subscribed := map[uuid.UUID]bool{}
	if teamID != nil {
		feedIDs, err := s.repomanager.Subscriptions(s.db).FeedIDsByTeam(ctx, *teamID)
		if err != nil {
			return nil, fmt.Errorf("load team subscriptions: %w", err)
		}
		for _, id := range feedIDs {
			subscribed[id] = true
		}
	}

	for _, f := range feeds {
		if teamID != nil && !f.IsPublic {
			continue
		}
		visible[f.ID.String()] = &models.TeamFeed{Feed: *f, IsSubscribed: teamID == nil || subscribed[f.ID]}
	}
	return visible, nil
}

func externalID(report map[string]any, source string) string {
	refs, _ := report["external_references"].([]any)
	for _, r := range refs {
		ref, ok := r.(map[string]any)
		if !ok || ref["source_name"] != source {
			continue
		}
		id, _ := ref["external_id"].(string)
		return id
	}
	return ""
}

// postFeedIDs collects the distinct, well-formed feed ids of posts.
func postFeedIDs(posts []models.Document) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, p := range posts {
		id, err := uuid.Parse(p.String("feed_id"))
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
