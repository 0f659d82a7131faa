// Package ingestion is the HTTP client for the remote feed ingestion
// service. Calls are never retried; every call is bounded by the client
// timeout.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	DefaultTimeout = 30 * time.Second
	postsPageSize  = 10
)

// Service is the subset of the ingestion API feedgate depends on.
type Service interface {
	CreateFeed(ctx context.Context, req CreateFeedRequest) (*models.Job, error)
	CreateSkeletonFeed(ctx context.Context, req SkeletonFeedRequest) (models.Document, error)
	ReloadFeed(ctx context.Context, profileID, feedID uuid.UUID) (*models.Job, error)
	GetJob(ctx context.Context, feedID, jobID uuid.UUID) (*models.Job, error)
	GetFeed(ctx context.Context, feedID uuid.UUID) (models.Document, error)
	DeleteFeed(ctx context.Context, feedID uuid.UUID) error
	ListPosts(ctx context.Context, q PostsQuery) (*PostPage, error)
	ListReportsForObject(ctx context.Context, objectID string, page int) (models.Document, error)
	GetPost(ctx context.Context, feedID, postID string) (models.Document, error)
}

type CreateFeedRequest struct {
	ProfileID          uuid.UUID `json:"profile_id"`
	URL                string    `json:"url"`
	IncludeRemoteBlogs bool      `json:"include_remote_blogs"`
	PrettyURL          string    `json:"pretty_url,omitempty"`
	Description        string    `json:"description,omitempty"`
	Title              string    `json:"title,omitempty"`
}

type SkeletonFeedRequest struct {
	URL         string `json:"url"`
	PrettyURL   string `json:"pretty_url,omitempty"`
	Description string `json:"description,omitempty"`
	Title       string `json:"title,omitempty"`
}

type reloadRequest struct {
	ProfileID          uuid.UUID `json:"profile_id"`
	IncludeRemoteBlogs bool      `json:"include_remote_blogs"`
}

// PostsQuery selects posts across a set of feeds. AllFeeds drops the feed
// filter entirely; otherwise only FeedIDs are searched.
type PostsQuery struct {
	AllFeeds bool
	FeedIDs  []uuid.UUID
	Sort     string
	Title    string
	Page     int
}

// PostPage is one page of posts as returned by the ingestion service.
type PostPage struct {
	PageSize          int               `json:"page_size"`
	PageNumber        int               `json:"page_number"`
	PageResultsCount  int               `json:"page_results_count"`
	TotalResultsCount int               `json:"total_results_count"`
	Posts             []models.Document `json:"posts"`
}

// EmptyPostPage is returned without a remote call when no feed is selected.
func EmptyPostPage() *PostPage {
	return &PostPage{PageSize: postsPageSize, PageNumber: 1, Posts: []models.Document{}}
}

type Client struct {
	http *resty.Client
	log  logging.Logger
}

var _ Service = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, log logging.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRedirectPolicy(resty.NoRedirectPolicy())

	return &Client{http: hc, log: log.With("module", "ingestion")}
}

// do executes req and decodes a 2xx JSON body into out (when non-nil).
// A 400 becomes a validation error carrying the remote payload when
// allowValidation is set; any other non-2xx wraps common.ErrUpstream.
func (c *Client) do(ctx context.Context, req *resty.Request, method, path string, out any, allowValidation bool) error {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		c.log.Warn(ctx, "ingestion call failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %s %s: %v", common.ErrUpstream, method, path, err)
	}

	status := resp.StatusCode()
	if allowValidation && status == http.StatusBadRequest {
		var details any
		if err := json.Unmarshal(resp.Body(), &details); err != nil {
			details = string(resp.Body())
		}
		apiErr := common.NewValidationError("ingestion service rejected the request")
		apiErr.Details = details
		return apiErr
	}
	if status < 200 || status > 299 {
		c.log.Warn(ctx, "ingestion call returned error status", "method", method, "path", path, "status", status)
		return fmt.Errorf("%w: %s %s: status %d", common.ErrUpstream, method, path, status)
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: %s %s: decode: %v", common.ErrUpstream, method, path, err)
	}
	return nil
}

func (c *Client) job(ctx context.Context, req *resty.Request, method, path string, allowValidation bool) (*models.Job, error) {
	var doc models.Document
	if err := c.do(ctx, req, method, path, &doc, allowValidation); err != nil {
		return nil, err
	}
	job, err := models.JobFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUpstream, err)
	}
	return job, nil
}

// CreateFeed registers a feed remotely and returns the initial ingestion job.
func (c *Client) CreateFeed(ctx context.Context, body CreateFeedRequest) (*models.Job, error) {
	return c.job(ctx, c.http.R().SetBody(body), http.MethodPost, "/feeds/", true)
}

// CreateSkeletonFeed registers a feed that is never fetched.
func (c *Client) CreateSkeletonFeed(ctx context.Context, body SkeletonFeedRequest) (models.Document, error) {
	var doc models.Document
	if err := c.do(ctx, c.http.R().SetBody(body), http.MethodPost, "/feeds/skeleton/", &doc, true); err != nil {
		return nil, err
	}
	return doc, nil
}

// ReloadFeed starts a fetch of feedID for profileID.
func (c *Client) ReloadFeed(ctx context.Context, profileID, feedID uuid.UUID) (*models.Job, error) {
	req := c.http.R().SetBody(reloadRequest{ProfileID: profileID})
	return c.job(ctx, req, http.MethodPatch, fmt.Sprintf("/feeds/%s/fetch/", feedID), false)
}

func (c *Client) GetJob(ctx context.Context, feedID, jobID uuid.UUID) (*models.Job, error) {
	return c.job(ctx, c.http.R(), http.MethodGet, fmt.Sprintf("/feeds/%s/jobs/%s/", feedID, jobID), false)
}

func (c *Client) GetFeed(ctx context.Context, feedID uuid.UUID) (models.Document, error) {
	var doc models.Document
	if err := c.do(ctx, c.http.R(), http.MethodGet, fmt.Sprintf("/feeds/%s/", feedID), &doc, false); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteFeed removes the remote feed. A feed that is already gone counts as
// deleted.
func (c *Client) DeleteFeed(ctx context.Context, feedID uuid.UUID) error {
	path := fmt.Sprintf("/feeds/%s/", feedID)
	resp, err := c.http.R().SetContext(ctx).Delete(path)
	if err != nil {
		return fmt.Errorf("%w: DELETE %s: %v", common.ErrUpstream, path, err)
	}
	if resp.StatusCode() == http.StatusNotFound || resp.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%w: DELETE %s: status %d", common.ErrUpstream, path, resp.StatusCode())
}

// ListPosts returns a page of posts across q.FeedIDs. An empty feed set
// short-circuits to EmptyPostPage unless AllFeeds is set.
func (c *Client) ListPosts(ctx context.Context, q PostsQuery) (*PostPage, error) {
	if !q.AllFeeds && len(q.FeedIDs) == 0 {
		return EmptyPostPage(), nil
	}

	params := url.Values{
		"page_size": {strconv.Itoa(postsPageSize)},
	}
	for _, id := range q.FeedIDs {
		params["feed_id"] = append(params["feed_id"], id.String())
	}
	if q.Page > 0 {
		params["page"] = []string{strconv.Itoa(q.Page)}
	}
	if q.Title != "" {
		params["title"] = []string{q.Title}
	}
	if q.Sort != "" {
		params["sort"] = []string{q.Sort}
	}

	page := &PostPage{}
	if err := c.do(ctx, c.http.R().SetQueryParamsFromValues(params), http.MethodGet, "/posts/", page, false); err != nil {
		return nil, err
	}
	if page.Posts == nil {
		page.Posts = []models.Document{}
	}
	return page, nil
}

// ListReportsForObject returns the paging document of reports that mention
// objectID.
func (c *Client) ListReportsForObject(ctx context.Context, objectID string, page int) (models.Document, error) {
	req := c.http.R()
	if page > 0 {
		req.SetQueryParam("page", strconv.Itoa(page))
	}
	var doc models.Document
	path := fmt.Sprintf("/object/%s/reports/", url.PathEscape(objectID))
	if err := c.do(ctx, req, http.MethodGet, path, &doc, false); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) GetPost(ctx context.Context, feedID, postID string) (models.Document, error) {
	var doc models.Document
	path := fmt.Sprintf("/feeds/%s/posts/%s/", url.PathEscape(feedID), url.PathEscape(postID))
	if err := c.do(ctx, c.http.R(), http.MethodGet, path, &doc, false); err != nil {
		return nil, err
	}
	return doc, nil
}
