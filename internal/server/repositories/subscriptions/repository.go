package subscriptions

import (
	"context"

	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the (feed, team) pair unless it already exists and
	// reports whether a row was added.
	Create(ctx context.Context, sub *models.Subscription) (bool, error)
	Delete(ctx context.Context, teamID, feedID uuid.UUID) (int64, error)
	CountByTeam(ctx context.Context, teamID uuid.UUID) (int, error)
	Exists(ctx context.Context, teamID, feedID uuid.UUID) (bool, error)
	FeedIDsByTeam(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error)
	SubscribedFeeds(ctx context.Context, teamID uuid.UUID) ([]*models.SubscribedFeed, error)
}
