package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/auth"
	"github.com/dmitrijs2005/feedgate/internal/server/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Params are the named segments captured by a route pattern. A trailing
// "*name" segment captures the rest of the path, slashes included.
type Params map[string]string

// Route is one proxied path family: who may use it, how the path maps onto
// the ingestion service, and whether only GET is allowed.
type Route struct {
	Name    string
	Pattern string
	Policy  auth.Predicate
	GetOnly bool
	// Rewrite returns the upstream path relative to the base URL.
	Rewrite func(path string, p Params) string
}

type compiledRoute struct {
	Route
	segments []string
}

func (r *compiledRoute) match(path string) (Params, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	p := Params{}
	for i, seg := range r.segments {
		if strings.HasPrefix(seg, "*") {
			if i >= len(parts) {
				return nil, false
			}
			p[seg[1:]] = strings.Join(parts[i:], "/")
			return p, true
		}
		if i >= len(parts) {
			return nil, false
		}
		switch {
		case strings.HasPrefix(seg, ":"):
			if parts[i] == "" {
				return nil, false
			}
			p[seg[1:]] = parts[i]
		case seg != parts[i]:
			return nil, false
		}
	}
	if len(parts) != len(r.segments) {
		return nil, false
	}
	return p, true
}

type upstreamPathKey struct{}

// Forwarder authorizes requests against its route table and relays them to
// the ingestion service. The upstream response is passed through as is,
// redirects included.
type Forwarder struct {
	base    *url.URL
	routes  []compiledRoute
	proxy   *httputil.ReverseProxy
	metrics metrics.Reporter
	log     logging.Logger
}

// NewForwarder builds a forwarder for baseURL. Routes are tried in order;
// the first matching pattern wins.
func NewForwarder(baseURL string, routes []Route, timeout time.Duration, m metrics.Reporter, log logging.Logger) (*Forwarder, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ingestion url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ingestion url %q must be absolute", baseURL)
	}

	f := &Forwarder{
		base:    base,
		metrics: m,
		log:     log.With("module", "proxy"),
	}
	for _, r := range routes {
		f.routes = append(f.routes, compiledRoute{
			Route:    r,
			segments: strings.Split(strings.TrimPrefix(r.Pattern, "/"), "/"),
		})
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	f.proxy = &httputil.ReverseProxy{
		Rewrite:      f.rewrite,
		Transport:    transport,
		ErrorHandler: f.upstreamError,
	}
	return f, nil
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	rel, _ := pr.In.Context().Value(upstreamPathKey{}).(string)
	pr.Out.URL.Scheme = f.base.Scheme
	pr.Out.URL.Host = f.base.Host
	pr.Out.URL.Path = f.base.Path + "/" + strings.TrimPrefix(rel, "/")
	pr.Out.URL.RawPath = ""
	pr.Out.URL.RawQuery = pr.In.URL.RawQuery
	pr.Out.Host = ""
}

func (f *Forwarder) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	f.log.Warn(r.Context(), "upstream request failed", "path", r.URL.Path, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"error":{"code":"` + ErrorCodeUpstream + `","message":"ingestion service unavailable"}}`))
}

func (f *Forwarder) lookup(path string) (*compiledRoute, Params) {
	for i := range f.routes {
		if p, ok := f.routes[i].match(path); ok {
			return &f.routes[i], p
		}
	}
	return nil, nil
}

// Handle serves any path not claimed by the JSON API.
func (f *Forwarder) Handle(c *gin.Context) {
	route, params := f.lookup(c.Request.URL.Path)
	if route == nil {
		AbortJSONError(c, http.StatusNotFound, ErrorCodeNotFound, "not found", nil)
		return
	}

	req := &auth.Request{HTTP: c.Request}
	req.TeamID, _ = uuid.Parse(params["team_id"])
	req.FeedID, _ = uuid.Parse(params["feed_id"])

	if err := route.Policy(c.Request.Context(), req); err != nil {
		if !isDenial(err) {
			f.log.Error(c.Request.Context(), "proxy authorization failed", "route", route.Name, "error", err)
			AbortJSONError(c, http.StatusInternalServerError, ErrorCodeInternal, "internal server error", nil)
			return
		}
		f.metrics.Incr(metrics.ProxyForwarded, metrics.Tag("route", route.Name), metrics.Tag("result", "denied"))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{})
		return
	}

	if route.GetOnly && c.Request.Method != http.MethodGet {
		f.metrics.Incr(metrics.ProxyForwarded, metrics.Tag("route", route.Name), metrics.Tag("result", "method_not_allowed"))
		AbortJSONError(c, http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed,
			fmt.Sprintf("Method %q not allowed.", c.Request.Method), nil)
		return
	}

	ctx := context.WithValue(c.Request.Context(), upstreamPathKey{}, route.Rewrite(c.Request.URL.Path, params))
	f.proxy.ServeHTTP(upstreamWriter{c.Writer}, c.Request.WithContext(ctx))

	f.metrics.Incr(metrics.ProxyForwarded, metrics.Tag("route", route.Name),
		metrics.Tag("result", "forwarded"), metrics.Tag("status", strconv.Itoa(c.Writer.Status())))
}

// upstreamWriter exposes only the writer and flusher of a gin writer to
// ReverseProxy. gin's CloseNotify panics when the wrapped writer does not
// implement http.CloseNotifier.
type upstreamWriter struct {
	w gin.ResponseWriter
}

func (u upstreamWriter) Header() http.Header         { return u.w.Header() }
func (u upstreamWriter) Write(b []byte) (int, error) { return u.w.Write(b) }
func (u upstreamWriter) WriteHeader(code int)        { u.w.WriteHeader(code) }
func (u upstreamWriter) Flush()                      { u.w.Flush() }

func isDenial(err error) bool {
	return errors.Is(err, common.ErrUnauthenticated) ||
		errors.Is(err, common.ErrInvalidKey) ||
		errors.Is(err, common.ErrInvalidToken) ||
		errors.Is(err, common.ErrPermissionDenied)
}

func rest(name string) func(string, Params) string {
	return func(_ string, p Params) string { return p[name] }
}

func feedPath(_ string, p Params) string {
	return "feeds/" + p["feed_id"] + "/" + p["path"]
}

func stripPrefix(prefix string) func(string, Params) string {
	return func(path string, _ Params) string { return strings.TrimPrefix(path, prefix) }
}

// ProxyRoutes is the route table of the ingestion proxy.
func ProxyRoutes(p Policies) []Route {
	open := stripPrefix("/proxy/open/")
	return []Route{
		{Name: "admin", Pattern: "/admin/api/v1/*path", Policy: p.Admin, Rewrite: rest("path")},
		{Name: "open_posts", Pattern: "/proxy/open/feeds/:feed_id/posts/", Policy: p.UserOrKey, GetOnly: true, Rewrite: open},
		{Name: "open_post", Pattern: "/proxy/open/feeds/:feed_id/posts/:post_id/", Policy: p.UserOrKey, GetOnly: true, Rewrite: open},
		{Name: "open_post_markdown", Pattern: "/proxy/open/feeds/:feed_id/posts/:post_id/markdown/", Policy: p.UserOrKey, GetOnly: true, Rewrite: open},
		{Name: "open_scos", Pattern: "/proxy/open/objects/scos/", Policy: p.UserOrKey, GetOnly: true, Rewrite: open},
		{Name: "open_object_reports", Pattern: "/proxy/open/object/:object_id/reports/", Policy: p.UserOrKey, GetOnly: true, Rewrite: open},
		{Name: "team_feed", Pattern: "/proxy/teams/:team_id/feeds/:feed_id/*path", Policy: p.TeamMemberForFeed, GetOnly: true, Rewrite: feedPath},
		{Name: "objects", Pattern: "/proxy/objects/*path", Policy: p.UserOrKey, GetOnly: true,
			Rewrite: func(_ string, p Params) string { return "objects/" + p["path"] }},
		{Name: "object", Pattern: "/proxy/object/:object_id", Policy: p.UserOrKey, GetOnly: true,
			Rewrite: func(_ string, p Params) string { return "object/" + p["object_id"] }},
		{Name: "proxy", Pattern: "/proxy/*path", Policy: p.Admin, Rewrite: rest("path")},
		{Name: "team_key_feed", Pattern: "/api/v1/feeds/:feed_id/*path", Policy: p.TeamKeyForFeed, GetOnly: true, Rewrite: feedPath},
	}
}
