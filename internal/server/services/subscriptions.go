package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const subscriptionLimitMessage = "Team subscription feed subscription limit exceeded"

type SubscriptionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

func NewSubscriptionService(db *sql.DB, rm repomanager.RepositoryManager, log logging.Logger) *SubscriptionService {
	return &SubscriptionService{db: db, repomanager: rm, log: log.With("module", "subscriptions")}
}

// Subscribe adds feedID to the team's subscriptions. Entitlements are
// checked before the feed is looked up; subscribing twice is a no-op. With a
// feed limit the team row is locked so concurrent subscribes count in turn.
func (s *SubscriptionService) Subscribe(ctx context.Context, team *models.Team, feedID uuid.UUID) error {
	if team.IsPrivate {
		return common.NewValidationError("Team has no access to this API")
	}
	if !team.ActiveBilling {
		return common.NewEntitlementError(common.ErrValidation, subscriptionLimitMessage)
	}

	var created bool
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		subs := s.repomanager.Subscriptions(tx)

		if team.FeedLimit > 0 {
			if err := s.repomanager.Principals(tx).LockTeam(ctx, team.ID); err != nil {
				return err
			}
			count, err := subs.CountByTeam(ctx, team.ID)
			if err != nil {
				return err
			}
			if count >= team.FeedLimit {
				return common.NewEntitlementError(common.ErrLimitExceeded, subscriptionLimitMessage)
			}
		}

		feed, err := s.repomanager.Feeds(tx).Get(ctx, feedID)
		if err != nil {
			return err
		}
		if !feed.IsPublic {
			return common.NewValidationError("Only public feeds can be subscribed")
		}

		created, err = subs.Create(ctx, &models.Subscription{ID: uuid.New(), FeedID: feedID, TeamID: team.ID})
		return err
	})
	if err != nil {
		return err
	}

	if created {
		s.log.Info(ctx, "team subscribed", "team_id", team.ID, "feed_id", feedID)
	}
	return nil
}

// Unsubscribe removes the subscription if there is one. The feed itself
// must exist.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, teamID, feedID uuid.UUID) error {
	ok, err := s.repomanager.Feeds(s.db).Exists(ctx, feedID)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotFound
	}

	n, err := s.repomanager.Subscriptions(s.db).Delete(ctx, teamID, feedID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info(ctx, "team unsubscribed", "team_id", teamID, "feed_id", feedID)
	}
	return nil
}
