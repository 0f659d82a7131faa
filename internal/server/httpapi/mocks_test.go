package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/auth"
	"github.com/dmitrijs2005/feedgate/internal/server/ingestion"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/feeds"
	"github.com/dmitrijs2005/feedgate/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errNotMocked = errors.New("not mocked")

type mockFeeds struct {
	ListFunc            func(ctx context.Context, filter feeds.ListFilter, page services.PageRequest) (*services.Page[*models.Feed], error)
	GetFunc             func(ctx context.Context, id uuid.UUID) (*models.Feed, error)
	CreateFunc          func(ctx context.Context, in services.CreateFeedInput) (*models.Feed, error)
	CreateSkeletonFunc  func(ctx context.Context, in services.SkeletonFeedInput) (*models.Feed, error)
	UpdateFunc          func(ctx context.Context, id uuid.UUID, in services.UpdateFeedInput) (*models.Feed, error)
	DeleteFunc          func(ctx context.Context, id uuid.UUID) error
	ListForTeamFunc     func(ctx context.Context, teamID uuid.UUID, filter feeds.TeamFilter, page services.PageRequest) (*services.Page[*models.TeamFeed], error)
	GetForTeamFunc      func(ctx context.Context, teamID, id uuid.UUID) (*models.TeamFeed, error)
	SubscribedFeedsFunc func(ctx context.Context, teamID uuid.UUID, page services.PageRequest) (*services.Page[*models.SubscribedFeed], error)
}

func (m *mockFeeds) List(ctx context.Context, filter feeds.ListFilter, page services.PageRequest) (*services.Page[*models.Feed], error) {
	if m.ListFunc == nil {
		return nil, errNotMocked
	}
	return m.ListFunc(ctx, filter, page)
}

func (m *mockFeeds) Get(ctx context.Context, id uuid.UUID) (*models.Feed, error) {
	if m.GetFunc == nil {
		return nil, errNotMocked
	}
	return m.GetFunc(ctx, id)
}

func (m *mockFeeds) Create(ctx context.Context, in services.CreateFeedInput) (*models.Feed, error) {
	if m.CreateFunc == nil {
		return nil, errNotMocked
	}
	return m.CreateFunc(ctx, in)
}

func (m *mockFeeds) CreateSkeleton(ctx context.Context, in services.SkeletonFeedInput) (*models.Feed, error) {
	if m.CreateSkeletonFunc == nil {
		return nil, errNotMocked
	}
	return m.CreateSkeletonFunc(ctx, in)
}

func (m *mockFeeds) Update(ctx context.Context, id uuid.UUID, in services.UpdateFeedInput) (*models.Feed, error) {
	if m.UpdateFunc == nil {
		return nil, errNotMocked
	}
	return m.UpdateFunc(ctx, id, in)
}

func (m *mockFeeds) Delete(ctx context.Context, id uuid.UUID) error {
	if m.DeleteFunc == nil {
		return errNotMocked
	}
	return m.DeleteFunc(ctx, id)
}

func (m *mockFeeds) ListForTeam(ctx context.Context, teamID uuid.UUID, filter feeds.TeamFilter, page services.PageRequest) (*services.Page[*models.TeamFeed], error) {
	if m.ListForTeamFunc == nil {
		return nil, errNotMocked
	}
	return m.ListForTeamFunc(ctx, teamID, filter, page)
}

func (m *mockFeeds) GetForTeam(ctx context.Context, teamID, id uuid.UUID) (*models.TeamFeed, error) {
	if m.GetForTeamFunc == nil {
		return nil, errNotMocked
	}
	return m.GetForTeamFunc(ctx, teamID, id)
}

func (m *mockFeeds) SubscribedFeeds(ctx context.Context, teamID uuid.UUID, page services.PageRequest) (*services.Page[*models.SubscribedFeed], error) {
	if m.SubscribedFeedsFunc == nil {
		return nil, errNotMocked
	}
	return m.SubscribedFeedsFunc(ctx, teamID, page)
}

type mockSubscriptions struct {
	SubscribeFunc   func(ctx context.Context, team *models.Team, feedID uuid.UUID) error
	UnsubscribeFunc func(ctx context.Context, teamID, feedID uuid.UUID) error
}

func (m *mockSubscriptions) Subscribe(ctx context.Context, team *models.Team, feedID uuid.UUID) error {
	if m.SubscribeFunc == nil {
		return errNotMocked
	}
	return m.SubscribeFunc(ctx, team, feedID)
}

func (m *mockSubscriptions) Unsubscribe(ctx context.Context, teamID, feedID uuid.UUID) error {
	if m.UnsubscribeFunc == nil {
		return errNotMocked
	}
	return m.UnsubscribeFunc(ctx, teamID, feedID)
}

type mockPosts struct {
	LatestFunc       func(ctx context.Context, teamID *uuid.UUID, q services.LatestQuery) (*ingestion.PostPage, error)
	ByExtractionFunc func(ctx context.Context, teamID *uuid.UUID, objectID string, page int) (models.Document, error)
}

func (m *mockPosts) Latest(ctx context.Context, teamID *uuid.UUID, q services.LatestQuery) (*ingestion.PostPage, error) {
	if m.LatestFunc == nil {
		return nil, errNotMocked
	}
	return m.LatestFunc(ctx, teamID, q)
}

func (m *mockPosts) ByExtraction(ctx context.Context, teamID *uuid.UUID, objectID string, page int) (models.Document, error) {
	if m.ByExtractionFunc == nil {
		return nil, errNotMocked
	}
	return m.ByExtractionFunc(ctx, teamID, objectID, page)
}

// allow is a predicate that always succeeds, attaching team when given.
func allow(team *models.Team) auth.Predicate {
	return func(_ context.Context, req *auth.Request) error {
		if team != nil {
			req.Team = team
		}
		return nil
	}
}

func deny(err error) auth.Predicate {
	return func(context.Context, *auth.Request) error { return err }
}

func allowAll(team *models.Team) Policies {
	return Policies{
		Admin:             allow(team),
		StaffUser:         allow(team),
		UserOrKey:         allow(team),
		TeamMember:        allow(team),
		TeamMemberForFeed: allow(team),
		TeamKey:           allow(team),
		TeamKeyForFeed:    allow(team),
	}
}

func denyAll(err error) Policies {
	return Policies{
		Admin:             deny(err),
		StaffUser:         deny(err),
		UserOrKey:         deny(err),
		TeamMember:        deny(err),
		TeamMemberForFeed: deny(err),
		TeamKey:           deny(err),
		TeamKeyForFeed:    deny(err),
	}
}

type recordingMetrics struct {
	mu    sync.Mutex
	calls []string
}

func (m *recordingMetrics) Incr(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name+"|"+strings.Join(tags, ","))
}

func (m *recordingMetrics) Timing(string, time.Duration, ...string) {}
func (m *recordingMetrics) Gauge(string, float64, ...string)        {}
func (m *recordingMetrics) Close() error                            { return nil }

func (m *recordingMetrics) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func newTestRouter(opts Options) http.Handler {
	if opts.Feeds == nil {
		opts.Feeds = &mockFeeds{}
	}
	if opts.Subscriptions == nil {
		opts.Subscriptions = &mockSubscriptions{}
	}
	if opts.Posts == nil {
		opts.Posts = &mockPosts{}
	}
	return NewRouter(opts, logging.Nop())
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
