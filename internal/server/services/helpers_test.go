package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/feedgate/internal/server/ingestion"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// newTxDB returns a sqlmock handle for dbx.WithTx. The memory repositories
// never touch it, so only transaction boundaries need expectations.
func newTxDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
		_ = db.Close()
	})
	return db, mock
}

type fakeIngestion struct {
	mu    sync.Mutex
	calls []string

	createJob   *models.Job
	createErr   error
	skeleton    models.Document
	skeletonErr error
	feeds       map[uuid.UUID]models.Document
	getFeedErr  error
	deleteErr   error
	postsPage   *ingestion.PostPage
	postsErr    error
	postsQuery  ingestion.PostsQuery
	reports     models.Document
	reportsErr  error
	posts       map[string]models.Document
	getPostErr  error
}

var _ ingestion.Service = (*fakeIngestion)(nil)

func (f *fakeIngestion) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeIngestion) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeIngestion) CreateFeed(context.Context, ingestion.CreateFeedRequest) (*models.Job, error) {
	f.record("CreateFeed")
	return f.createJob, f.createErr
}

func (f *fakeIngestion) CreateSkeletonFeed(context.Context, ingestion.SkeletonFeedRequest) (models.Document, error) {
	f.record("CreateSkeletonFeed")
	return f.skeleton, f.skeletonErr
}

func (f *fakeIngestion) ReloadFeed(context.Context, uuid.UUID, uuid.UUID) (*models.Job, error) {
	f.record("ReloadFeed")
	return nil, errors.New("not used")
}

func (f *fakeIngestion) GetJob(context.Context, uuid.UUID, uuid.UUID) (*models.Job, error) {
	f.record("GetJob")
	return nil, errors.New("not used")
}

func (f *fakeIngestion) GetFeed(_ context.Context, feedID uuid.UUID) (models.Document, error) {
	f.record("GetFeed")
	if f.getFeedErr != nil {
		return nil, f.getFeedErr
	}
	return f.feeds[feedID], nil
}

func (f *fakeIngestion) DeleteFeed(context.Context, uuid.UUID) error {
	f.record("DeleteFeed")
	return f.deleteErr
}

func (f *fakeIngestion) ListPosts(_ context.Context, q ingestion.PostsQuery) (*ingestion.PostPage, error) {
	if !q.AllFeeds && len(q.FeedIDs) == 0 {
		return ingestion.EmptyPostPage(), nil
	}
	f.record("ListPosts")
	f.postsQuery = q
	return f.postsPage, f.postsErr
}

func (f *fakeIngestion) ListReportsForObject(context.Context, string, int) (models.Document, error) {
	f.record("ListReportsForObject")
	return f.reports, f.reportsErr
}

func (f *fakeIngestion) GetPost(_ context.Context, feedID, postID string) (models.Document, error) {
	f.record("GetPost")
	if f.getPostErr != nil {
		return nil, f.getPostErr
	}
	p, ok := f.posts[feedID+"/"+postID]
	if !ok {
		return models.Document{}, nil
	}
	out := models.Document{}
	for k, v := range p {
		out[k] = v
	}
	return out, nil
}

func feedMeta(id uuid.UUID, title string) models.Document {
	return models.Document{"id": id.String(), "title": title, "url": "https://example.com/" + title}
}

func ptr[T any](v T) *T { return &v }
