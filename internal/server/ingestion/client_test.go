package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api/v1/", time.Second, logging.Nop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateFeed(t *testing.T) {
	profile, jobID, feedID := uuid.New(), uuid.New(), uuid.New()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/feeds/", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, profile.String(), body["profile_id"])
		assert.Equal(t, "https://blog.example/rss", body["url"])
		assert.Equal(t, true, body["include_remote_blogs"])
		assert.Equal(t, "Blog", body["title"])
		assert.NotContains(t, body, "description")

		writeJSON(w, http.StatusCreated, map[string]any{"id": jobID.String(), "feed_id": feedID.String(), "state": "queued"})
	})

	job, err := c.CreateFeed(context.Background(), CreateFeedRequest{
		ProfileID: profile, URL: "https://blog.example/rss", IncludeRemoteBlogs: true, Title: "Blog",
	})
	require.NoError(t, err)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, feedID, job.FeedID)
	assert.Equal(t, "queued", job.State)
}

func TestCreateFeed_ValidationError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"url": []string{"Enter a valid URL."}})
	})

	_, err := c.CreateFeed(context.Background(), CreateFeedRequest{URL: "nope"})
	require.ErrorIs(t, err, common.ErrValidation)

	var apiErr *common.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, map[string]any{"url": []any{"Enter a valid URL."}}, apiErr.Details)
}

func TestCreateSkeletonFeed(t *testing.T) {
	feedID := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/feeds/skeleton/", r.URL.Path)
		writeJSON(w, http.StatusCreated, map[string]any{"id": feedID.String(), "title": "S"})
	})

	doc, err := c.CreateSkeletonFeed(context.Background(), SkeletonFeedRequest{URL: "https://s.example"})
	require.NoError(t, err)
	assert.Equal(t, feedID.String(), doc.String("id"))
}

func TestReloadFeed(t *testing.T) {
	profile, feedID, jobID := uuid.New(), uuid.New(), uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/feeds/"+feedID.String()+"/fetch/", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"profile_id":"`+profile.String()+`","include_remote_blogs":false}`, string(b))
		writeJSON(w, http.StatusOK, map[string]any{"id": jobID.String(), "state": "queued"})
	})

	job, err := c.ReloadFeed(context.Background(), profile, feedID)
	require.NoError(t, err)
	assert.Equal(t, jobID, job.ID)
}

func TestReloadFeed_400IsUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "bad"})
	})

	_, err := c.ReloadFeed(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, common.ErrUpstream)
	assert.NotErrorIs(t, err, common.ErrValidation)
}

func TestGetJobAndFeed_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetJob(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, common.ErrUpstream)

	_, err = c.GetFeed(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrUpstream)
}

func TestGetJob_BadPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "not-a-uuid"})
	})

	_, err := c.GetJob(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, common.ErrUpstream)
}

func TestDeleteFeed(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(int(status.Load()))
	})

	require.NoError(t, c.DeleteFeed(context.Background(), uuid.New()))

	status.Store(http.StatusNotFound)
	require.NoError(t, c.DeleteFeed(context.Background(), uuid.New()))

	status.Store(http.StatusBadGateway)
	assert.ErrorIs(t, c.DeleteFeed(context.Background(), uuid.New()), common.ErrUpstream)
}

func TestListPosts(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/posts/", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, []string{a.String(), b.String()}, q["feed_id"])
		assert.Equal(t, "10", q.Get("page_size"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "pubdate_descending", q.Get("sort"))
		assert.Equal(t, "apt", q.Get("title"))
		writeJSON(w, http.StatusOK, map[string]any{
			"page_size": 10, "page_number": 2, "page_results_count": 1, "total_results_count": 11,
			"posts": []any{map[string]any{"id": "p1", "feed_id": a.String()}},
		})
	})

	page, err := c.ListPosts(context.Background(), PostsQuery{FeedIDs: []uuid.UUID{a, b}, Sort: "pubdate_descending", Title: "apt", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 11, page.TotalResultsCount)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "p1", page.Posts[0].String("id"))
}

func TestListPosts_AllFeeds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query()["feed_id"])
		writeJSON(w, http.StatusOK, map[string]any{"page_size": 10, "page_number": 1, "posts": []any{}})
	})

	page, err := c.ListPosts(context.Background(), PostsQuery{AllFeeds: true})
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
}

func TestListPosts_NoFeedsSkipsRemote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("remote must not be called")
	})

	page, err := c.ListPosts(context.Background(), PostsQuery{})
	require.NoError(t, err)

	b, err := json.Marshal(page)
	require.NoError(t, err)
	assert.JSONEq(t, `{"page_size":10,"page_number":1,"page_results_count":0,"total_results_count":0,"posts":[]}`, string(b))
}

func TestReportsAndPost(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/object/indicator--1/reports/":
			assert.Equal(t, "3", r.URL.Query().Get("page"))
			writeJSON(w, http.StatusOK, map[string]any{"page_number": 3, "reports": []any{}})
		case "/api/v1/feeds/f1/posts/p1/":
			writeJSON(w, http.StatusOK, map[string]any{"id": "p1", "title": "Post"})
		default:
			http.NotFound(w, r)
		}
	})

	doc, err := c.ListReportsForObject(context.Background(), "indicator--1", 3)
	require.NoError(t, err)
	assert.Equal(t, float64(3), doc["page_number"])

	post, err := c.GetPost(context.Background(), "f1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Post", post.String("title"))

	_, err = c.GetPost(context.Background(), "f1", "missing")
	assert.ErrorIs(t, err, common.ErrUpstream)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 50*time.Millisecond, logging.Nop())
	_, err := c.GetFeed(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrUpstream)
}
