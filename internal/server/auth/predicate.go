package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

// Request is the state an authorization decision works on. TeamID and
// FeedID come from the route; User and Team are filled in by predicates as
// they succeed.
type Request struct {
	HTTP   *http.Request
	TeamID uuid.UUID
	FeedID uuid.UUID
	User   *models.User
	Team   *models.Team
}

// Predicate allows a request by returning nil or denies it with an error
// such as common.ErrUnauthenticated, common.ErrInvalidKey or
// common.ErrPermissionDenied.
type Predicate func(ctx context.Context, req *Request) error

// All allows a request only when every predicate does, evaluated in order.
func All(preds ...Predicate) Predicate {
	return func(ctx context.Context, req *Request) error {
		for _, p := range preds {
			if err := p(ctx, req); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any allows a request when at least one predicate does. When all deny, the
// first error other than ErrUnauthenticated is returned, so a bad credential
// is reported over a missing one.
func Any(preds ...Predicate) Predicate {
	return func(ctx context.Context, req *Request) error {
		var first error
		for _, p := range preds {
			err := p(ctx, req)
			if err == nil {
				return nil
			}
			if first == nil || (errors.Is(first, common.ErrUnauthenticated) && !errors.Is(err, common.ErrUnauthenticated)) {
				first = err
			}
		}
		if first == nil {
			return common.ErrUnauthenticated
		}
		return first
	}
}

// Session requires a valid bearer session token.
func (r *Resolver) Session() Predicate {
	return func(ctx context.Context, req *Request) error {
		user, err := r.SessionUser(ctx, req.HTTP)
		if err != nil {
			return err
		}
		req.User = user
		return nil
	}
}

// UserKey requires a valid user API key.
func (r *Resolver) UserKey() Predicate {
	return func(ctx context.Context, req *Request) error {
		user, err := r.ResolveUser(ctx, req.HTTP)
		if err != nil {
			return err
		}
		if user == nil {
			return common.ErrUnauthenticated
		}
		req.User = user
		return nil
	}
}

// Staff requires the already resolved user to be staff.
func Staff() Predicate {
	return func(_ context.Context, req *Request) error {
		if req.User == nil {
			return common.ErrUnauthenticated
		}
		if !req.User.IsStaff {
			return common.ErrPermissionDenied
		}
		return nil
	}
}

// TeamKey requires a valid, active team API key and attaches its team.
func (r *Resolver) TeamKey() Predicate {
	return func(ctx context.Context, req *Request) error {
		team, err := r.ResolveTeam(ctx, req.HTTP)
		if err != nil {
			return err
		}
		req.Team = team
		return nil
	}
}

// FeedSubscription requires the attached team to subscribe to the route feed.
func (r *Resolver) FeedSubscription() Predicate {
	return func(ctx context.Context, req *Request) error {
		if req.Team == nil {
			return common.ErrUnauthenticated
		}
		ok, err := r.rm.Subscriptions(r.db).Exists(ctx, req.Team.ID, req.FeedID)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrPermissionDenied
		}
		return nil
	}
}

// PathTeamMember requires the resolved user to belong to the route team and
// attaches that team.
func (r *Resolver) PathTeamMember() Predicate {
	return func(ctx context.Context, req *Request) error {
		if req.User == nil {
			return common.ErrUnauthenticated
		}
		ok, err := r.rm.Principals(r.db).IsMember(ctx, req.TeamID, req.User.ID)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrPermissionDenied
		}
		team, err := r.rm.Principals(r.db).GetTeam(ctx, req.TeamID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrPermissionDenied
			}
			return err
		}
		req.Team = team
		return nil
	}
}

// ActiveBilling requires the attached team to have an active billing plan.
func ActiveBilling() Predicate {
	return func(_ context.Context, req *Request) error {
		if req.Team == nil || !req.Team.ActiveBilling {
			return common.ErrPermissionDenied
		}
		return nil
	}
}

// UserOrKey allows a valid session or a valid user API key.
func (r *Resolver) UserOrKey() Predicate {
	return Any(r.Session(), r.UserKey())
}

// Admin allows staff users with a valid session.
func (r *Resolver) Admin() Predicate {
	return All(r.Session(), Staff())
}

// StaffUser allows staff users authenticated by session or user API key.
func (r *Resolver) StaffUser() Predicate {
	return All(r.UserOrKey(), Staff())
}

// TeamKeyForFeed allows a team key whose team subscribes to the route feed.
func (r *Resolver) TeamKeyForFeed() Predicate {
	return All(r.TeamKey(), r.FeedSubscription())
}

// TeamMember allows members of the route team.
func (r *Resolver) TeamMember() Predicate {
	return All(r.UserOrKey(), r.PathTeamMember())
}

// TeamMemberForFeed allows members of a billed route team that subscribes
// to the route feed.
func (r *Resolver) TeamMemberForFeed() Predicate {
	return All(r.TeamMember(), ActiveBilling(), r.FeedSubscription())
}
