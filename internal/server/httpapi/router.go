// Package httpapi is the inbound HTTP surface of feedgate: the JSON API
// for feeds, subscriptions and posts, plus the authorizing reverse proxy to
// the ingestion service. Routing is done with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/auth"
	"github.com/dmitrijs2005/feedgate/internal/server/ingestion"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/feeds"
	"github.com/dmitrijs2005/feedgate/internal/server/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FeedCatalog is the feed side of the API, implemented by
// *services.FeedService.
type FeedCatalog interface {
	List(ctx context.Context, filter feeds.ListFilter, page services.PageRequest) (*services.Page[*models.Feed], error)
	Get(ctx context.Context, id uuid.UUID) (*models.Feed, error)
	Create(ctx context.Context, in services.CreateFeedInput) (*models.Feed, error)
	CreateSkeleton(ctx context.Context, in services.SkeletonFeedInput) (*models.Feed, error)
	Update(ctx context.Context, id uuid.UUID, in services.UpdateFeedInput) (*models.Feed, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListForTeam(ctx context.Context, teamID uuid.UUID, filter feeds.TeamFilter, page services.PageRequest) (*services.Page[*models.TeamFeed], error)
	GetForTeam(ctx context.Context, teamID, id uuid.UUID) (*models.TeamFeed, error)
	SubscribedFeeds(ctx context.Context, teamID uuid.UUID, page services.PageRequest) (*services.Page[*models.SubscribedFeed], error)
}

// Subscriptions is implemented by *services.SubscriptionService.
type Subscriptions interface {
	Subscribe(ctx context.Context, team *models.Team, feedID uuid.UUID) error
	Unsubscribe(ctx context.Context, teamID, feedID uuid.UUID) error
}

// Posts is implemented by *services.PostService.
type Posts interface {
	Latest(ctx context.Context, teamID *uuid.UUID, q services.LatestQuery) (*ingestion.PostPage, error)
	ByExtraction(ctx context.Context, teamID *uuid.UUID, objectID string, page int) (models.Document, error)
}

// Policies are the authorization predicates guarding each route family.
type Policies struct {
	Admin             auth.Predicate
	StaffUser         auth.Predicate
	UserOrKey         auth.Predicate
	TeamMember        auth.Predicate
	TeamMemberForFeed auth.Predicate
	TeamKey           auth.Predicate
	TeamKeyForFeed    auth.Predicate
}

// PoliciesFor builds the standard policies on top of r.
func PoliciesFor(r *auth.Resolver) Policies {
	return Policies{
		Admin:             r.Admin(),
		StaffUser:         r.StaffUser(),
		UserOrKey:         r.UserOrKey(),
		TeamMember:        r.TeamMember(),
		TeamMemberForFeed: r.TeamMemberForFeed(),
		TeamKey:           r.TeamKey(),
		TeamKeyForFeed:    r.TeamKeyForFeed(),
	}
}

// Options configures NewRouter. Forwarder may be nil, in which case
// unknown routes are plain 404s.
type Options struct {
	Feeds          FeedCatalog
	Subscriptions  Subscriptions
	Posts          Posts
	Policies       Policies
	Forwarder      *Forwarder
	CORSOrigins    []string
	APIKeyHeader   string
	HandlerTimeout time.Duration
}

type handlers struct {
	feeds         FeedCatalog
	subscriptions Subscriptions
	posts         Posts
	log           logging.Logger
}

func NewRouter(opts Options, log logging.Logger) http.Handler {
	log = log.With("module", "http")
	h := &handlers{
		feeds:         opts.Feeds,
		subscriptions: opts.Subscriptions,
		posts:         opts.Posts,
		log:           log,
	}
	p := opts.Policies

	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(log), cors.New(corsConfig(opts.CORSOrigins, opts.APIKeyHeader)))

	g.GET("/health", healthHandler)

	timed := func(fn gin.HandlerFunc) gin.HandlerFunc { return withTimeout(opts.HandlerTimeout, fn) }

	admin := g.Group("/feeds", h.require(p.Admin))
	{
		admin.GET("/", timed(h.listFeeds))
		admin.POST("/", timed(h.createFeed))
		admin.POST("/skeleton/", timed(h.createSkeletonFeed))
		admin.GET("/:feed_id/", timed(h.getFeed))
		admin.PUT("/:feed_id/", timed(h.updateFeed))
		admin.PATCH("/:feed_id/", timed(h.updateFeed))
		admin.DELETE("/:feed_id/", timed(h.deleteFeed))
	}

	team := g.Group("/team/:team_id/feeds", h.require(p.TeamMember))
	{
		team.GET("/", timed(h.listTeamFeeds))
		team.POST("/subscribe/", timed(h.subscribe))
		team.POST("/unsubscribe/", timed(h.unsubscribe))
		team.GET("/:feed_id/", timed(h.getTeamFeed))
	}

	g.GET("/api/v1/feeds/", h.require(p.TeamKey), timed(h.listSubscribedFeeds))

	g.GET("/posts/", h.require(p.StaffUser), timed(h.latestPosts))
	g.GET("/teams/:team_id/posts/", h.require(p.TeamMember), timed(h.latestPosts))
	g.GET("/objects/:object_id/", h.require(p.StaffUser), timed(h.postsByObject))
	g.GET("/teams/:team_id/objects/:object_id/", h.require(p.TeamMember), timed(h.postsByObject))

	if opts.Forwarder != nil {
		g.NoRoute(opts.Forwarder.Handle)
	}

	return g
}

func corsConfig(origins []string, keyHeader string) cors.Config {
	if keyHeader == "" {
		keyHeader = common.APIKeyHeaderName
	}
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", keyHeader)
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func withTimeout(d time.Duration, fn gin.HandlerFunc) gin.HandlerFunc {
	if d <= 0 {
		return fn
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		fn(c)
	}
}
