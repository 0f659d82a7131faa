package principals

import (
	"context"

	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

// Repository reads users, teams and memberships. Principals are managed
// elsewhere; feedgate only consults them.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	IsMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error)
	// LockTeam takes a row lock on the team until the surrounding
	// transaction ends. It serializes writes that check a team limit.
	LockTeam(ctx context.Context, id uuid.UUID) error
}
