package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/cryptox"
	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/metrics"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/repomanager"
)

// Resolver turns request credentials into principals: API keys from the
// configured header and session tokens from the Authorization header.
type Resolver struct {
	db            dbx.DBTX
	rm            repomanager.RepositoryManager
	header        string
	sessionSecret []byte
	log           logging.Logger
	metrics       metrics.Reporter
	now           func() time.Time
}

func NewResolver(db dbx.DBTX, rm repomanager.RepositoryManager, header string, sessionSecret []byte,
	log logging.Logger, m metrics.Reporter) *Resolver {
	if header == "" {
		header = common.APIKeyHeaderName
	}
	return &Resolver{
		db:            db,
		rm:            rm,
		header:        header,
		sessionSecret: sessionSecret,
		log:           log.With("module", "auth"),
		metrics:       m,
		now:           time.Now,
	}
}

// KeyFromRequest returns the raw API key carried by r, or "" when there is
// none. The configured header wins over "Authorization: Api-Key <key>".
func (r *Resolver) KeyFromRequest(req *http.Request) string {
	if v := strings.TrimSpace(req.Header.Get(r.header)); v != "" {
		return v
	}
	v := strings.TrimSpace(req.Header.Get("Authorization"))
	if len(v) > len(common.APIKeyScheme) && strings.EqualFold(v[:len(common.APIKeyScheme)], common.APIKeyScheme) {
		return v
	}
	return ""
}

// verify checks secret against a stored key; every mismatch is ErrInvalidKey.
func (r *Resolver) verify(key *models.APIKey, secret string) error {
	if !key.Usable(r.now()) {
		return common.ErrInvalidKey
	}
	ok, err := cryptox.VerifySecret(secret, key.HashedKey)
	if err != nil || !ok {
		return common.ErrInvalidKey
	}
	return nil
}

func notFoundAsInvalid(err error) error {
	if errors.Is(err, common.ErrNotFound) {
		return common.ErrInvalidKey
	}
	return err
}

// ResolveUser returns the owner of the user API key on req, nil when the
// request carries no key, or ErrInvalidKey.
func (r *Resolver) ResolveUser(ctx context.Context, req *http.Request) (*models.User, error) {
	raw := r.KeyFromRequest(req)
	if raw == "" {
		return nil, nil
	}

	user, err := r.resolveUser(ctx, raw)
	if err != nil {
		r.metrics.Incr(metrics.AuthResult, metrics.Tag("kind", "user_key"), metrics.Tag("result", "denied"))
		return nil, err
	}
	r.metrics.Incr(metrics.AuthResult, metrics.Tag("kind", "user_key"), metrics.Tag("result", "ok"))
	return user, nil
}

func (r *Resolver) resolveUser(ctx context.Context, raw string) (*models.User, error) {
	prefix, secret, err := cryptox.ParseKey(raw)
	if err != nil {
		return nil, common.ErrInvalidKey
	}

	key, err := r.rm.APIKeys(r.db).GetUserKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, notFoundAsInvalid(err)
	}
	if err := r.verify(&key.APIKey, secret); err != nil {
		return nil, err
	}

	user, err := r.rm.Principals(r.db).GetUser(ctx, key.UserID)
	if err != nil {
		return nil, notFoundAsInvalid(err)
	}
	return user, nil
}

// ResolveTeam returns the team owning the team API key on req. A missing
// key is ErrUnauthenticated, a bad one ErrInvalidKey, and a key whose status
// is not active ErrPermissionDenied. last_used is updated best-effort.
func (r *Resolver) ResolveTeam(ctx context.Context, req *http.Request) (*models.Team, error) {
	raw := r.KeyFromRequest(req)
	if raw == "" {
		return nil, common.ErrUnauthenticated
	}

	team, err := r.resolveTeam(ctx, raw)
	if err != nil {
		r.metrics.Incr(metrics.AuthResult, metrics.Tag("kind", "team_key"), metrics.Tag("result", "denied"))
		return nil, err
	}
	r.metrics.Incr(metrics.AuthResult, metrics.Tag("kind", "team_key"), metrics.Tag("result", "ok"))
	return team, nil
}

func (r *Resolver) resolveTeam(ctx context.Context, raw string) (*models.Team, error) {
	prefix, secret, err := cryptox.ParseKey(raw)
	if err != nil {
		return nil, common.ErrInvalidKey
	}

	keys := r.rm.APIKeys(r.db)
	key, err := keys.GetTeamKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, notFoundAsInvalid(err)
	}
	if err := r.verify(&key.APIKey, secret); err != nil {
		return nil, err
	}
	if key.Status != models.KeyStatusActive {
		return nil, common.ErrPermissionDenied
	}

	if err := keys.TouchTeamKey(ctx, key.ID, r.now()); err != nil {
		r.log.Warn(ctx, "cannot update key last_used", "prefix", prefix, "error", err)
	}

	team, err := r.rm.Principals(r.db).GetTeam(ctx, key.TeamID)
	if err != nil {
		return nil, notFoundAsInvalid(err)
	}
	return team, nil
}

// SessionUser returns the user of the bearer session token on req.
// ErrUnauthenticated means no token was sent.
func (r *Resolver) SessionUser(ctx context.Context, req *http.Request) (*models.User, error) {
	token, ok := bearerToken(req.Header.Get("Authorization"))
	if !ok {
		return nil, common.ErrUnauthenticated
	}

	userID, err := GetUserIDFromToken(token, r.sessionSecret)
	if err != nil {
		return nil, err
	}

	user, err := r.rm.Principals(r.db).GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}
