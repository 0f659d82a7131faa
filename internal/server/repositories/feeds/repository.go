package feeds

import (
	"context"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

// ListFilter narrows and pages feed listings. OrderBy is a remote metadata
// key, optionally prefixed with "-" for descending order; unknown keys fall
// back to the default ordering.
type ListFilter struct {
	ProfileID  *uuid.UUID
	Title      string
	OrderBy    string
	PublicOnly bool
	Limit      int
	Offset     int
}

// TeamFilter is ListFilter for a team's view of public feeds.
type TeamFilter struct {
	ListFilter
	OnlySubscribed bool
}

type Repository interface {
	Create(ctx context.Context, feed *models.Feed) error
	Get(ctx context.Context, id uuid.UUID) (*models.Feed, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Feed, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, f ListFilter) ([]*models.Feed, int, error)
	ListForTeam(ctx context.Context, teamID uuid.UUID, f TeamFilter) ([]*models.TeamFeed, int, error)
	GetForTeam(ctx context.Context, teamID, id uuid.UUID) (*models.TeamFeed, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Feed, error)
	Update(ctx context.Context, feed *models.Feed) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ClaimDue marks every due feed with a schedule as polling, stamps the
	// claim with now and returns the claimed rows. A feed that is already
	// polling is only taken over when its claim is not newer than
	// staleBefore. Concurrent callers never claim the same feed twice.
	ClaimDue(ctx context.Context, now, staleBefore time.Time) ([]*models.Feed, error)
	// ReleasePolling clears the polling flag and its claim.
	ReleasePolling(ctx context.Context, id uuid.UUID) error
	ListWithActiveJob(ctx context.Context) ([]*models.Feed, error)
}
