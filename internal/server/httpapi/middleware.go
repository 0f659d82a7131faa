package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const authRequestKey = "feedgate.auth"

// authRequest builds the authorization state for c from its route params.
// Unparsable ids become uuid.Nil and fail any membership check.
func authRequest(c *gin.Context) *auth.Request {
	req := &auth.Request{HTTP: c.Request}
	if v := c.Param("team_id"); v != "" {
		req.TeamID, _ = uuid.Parse(v)
	}
	if v := c.Param("feed_id"); v != "" {
		req.FeedID, _ = uuid.Parse(v)
	}
	return req
}

// require runs pred before the handler and aborts with the error envelope
// when it denies. The resulting auth.Request is stored on the context.
func (h *handlers) require(pred auth.Predicate) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := authRequest(c)
		if err := pred(c.Request.Context(), req); err != nil {
			h.abortWithError(c, err)
			return
		}
		c.Set(authRequestKey, req)
		c.Next()
	}
}

// authorized returns the auth.Request stored by require.
func authorized(c *gin.Context) *auth.Request {
	if v, ok := c.Get(authRequestKey); ok {
		if req, ok := v.(*auth.Request); ok {
			return req
		}
	}
	return &auth.Request{HTTP: c.Request}
}

func requestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			log.Warn(c.Request.Context(), "request", args...)
			return
		}
		log.Debug(c.Request.Context(), "request", args...)
	}
}
