package httpapi

import (
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/feeds"
	"github.com/dmitrijs2005/feedgate/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var errInvalidPage = &common.APIError{Kind: common.ErrNotFound, Code: ErrorCodeNotFound, Message: "Invalid page number."}

// PageResponse is the paginated list envelope.
type PageResponse[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

func newPageResponse[T any](c *gin.Context, p *services.Page[T]) PageResponse[T] {
	resp := PageResponse[T]{Count: p.Total, Results: p.Items}
	if p.HasNext() {
		u := pageURL(c, p.Number+1)
		resp.Next = &u
	}
	if p.HasPrevious() {
		u := pageURL(c, p.Number-1)
		resp.Previous = &u
	}
	return resp
}

// pageURL is the absolute URL of the current request moved to page number.
// The first page drops the page parameter.
func pageURL(c *gin.Context, number int) string {
	u := *c.Request.URL
	q := u.Query()
	if number <= 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(number))
	}
	u.RawQuery = q.Encode()
	u.Scheme = "http"
	if c.Request.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = c.Request.Host
	return u.String()
}

// pageRequest reads page and page_size. A page that is not a positive
// number is reported as an invalid page; a bad page_size falls back to the
// default.
func pageRequest(c *gin.Context) (services.PageRequest, error) {
	var req services.PageRequest
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, errInvalidPage
		}
		req.Number = n
	}
	if v := c.Query("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			req.Size = n
		}
	}
	return req, nil
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, common.ErrNotFound
	}
	return id, nil
}

func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return common.NewValidationError(err.Error())
	}
	return nil
}

func (h *handlers) listFeeds(c *gin.Context) {
	page, err := pageRequest(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	filter := feeds.ListFilter{
		Title:   c.Query("title"),
		OrderBy: c.Query("order_by"),
	}
	if v := c.Query("profile_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			h.abortWithError(c, common.NewValidationError("profile_id must be a valid UUID"))
			return
		}
		filter.ProfileID = &id
	}

	result, err := h.feeds.List(c.Request.Context(), filter, page)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPageResponse(c, result))
}

func (h *handlers) getFeed(c *gin.Context) {
	id, err := pathUUID(c, "feed_id")
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	feed, err := h.feeds.Get(c.Request.Context(), id)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

func (h *handlers) createFeed(c *gin.Context) {
	var in services.CreateFeedInput
	if err := bindJSON(c, &in); err != nil {
		h.abortWithError(c, err)
		return
	}
	feed, err := h.feeds.Create(c.Request.Context(), in)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, feed)
}

func (h *handlers) createSkeletonFeed(c *gin.Context) {
	var in services.SkeletonFeedInput
	if err := bindJSON(c, &in); err != nil {
		h.abortWithError(c, err)
		return
	}
	feed, err := h.feeds.CreateSkeleton(c.Request.Context(), in)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, feed)
}

func (h *handlers) updateFeed(c *gin.Context) {
	id, err := pathUUID(c, "feed_id")
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	var in services.UpdateFeedInput
	if err := bindJSON(c, &in); err != nil {
		h.abortWithError(c, err)
		return
	}
	feed, err := h.feeds.Update(c.Request.Context(), id, in)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

func (h *handlers) deleteFeed(c *gin.Context) {
	id, err := pathUUID(c, "feed_id")
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if err := h.feeds.Delete(c.Request.Context(), id); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listTeamFeeds(c *gin.Context) {
	page, err := pageRequest(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	filter := feeds.TeamFilter{
		ListFilter: feeds.ListFilter{
			Title:   c.Query("title"),
			OrderBy: c.Query("order_by"),
		},
		OnlySubscribed: c.Query("show_only_my_feeds") == "true",
	}

	result, err := h.feeds.ListForTeam(c.Request.Context(), authorized(c).TeamID, filter, page)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPageResponse(c, result))
}

func (h *handlers) getTeamFeed(c *gin.Context) {
	id, err := pathUUID(c, "feed_id")
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	feed, err := h.feeds.GetForTeam(c.Request.Context(), authorized(c).TeamID, id)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

type subscribeRequest struct {
	FeedID uuid.UUID `json:"feed_id" binding:"required"`
}

func (h *handlers) subscribe(c *gin.Context) {
	var in subscribeRequest
	if err := bindJSON(c, &in); err != nil {
		h.abortWithError(c, err)
		return
	}
	if err := h.subscriptions.Subscribe(c.Request.Context(), authorized(c).Team, in.FeedID); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *handlers) unsubscribe(c *gin.Context) {
	var in subscribeRequest
	if err := bindJSON(c, &in); err != nil {
		h.abortWithError(c, err)
		return
	}
	if err := h.subscriptions.Unsubscribe(c.Request.Context(), authorized(c).TeamID, in.FeedID); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *handlers) listSubscribedFeeds(c *gin.Context) {
	page, err := pageRequest(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	team := authorized(c).Team
	if team == nil {
		h.abortWithError(c, common.ErrUnauthenticated)
		return
	}
	result, err := h.feeds.SubscribedFeeds(c.Request.Context(), team.ID, page)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPageResponse(c, result))
}

// teamScope is the route team for /teams/:team_id/... and nil on the staff
// routes.
func teamScope(c *gin.Context) *uuid.UUID {
	if c.Param("team_id") == "" {
		return nil
	}
	id := authorized(c).TeamID
	return &id
}

func (h *handlers) latestPosts(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	q := services.LatestQuery{
		Sort:  c.DefaultQuery("sort", services.DefaultPostSort),
		Title: c.Query("title"),
		Page:  page,
	}
	result, err := h.posts.Latest(c.Request.Context(), teamScope(c), q)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) postsByObject(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	result, err := h.posts.ByExtraction(c.Request.Context(), teamScope(c), c.Param("object_id"), page)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
