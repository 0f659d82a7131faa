package apikeys

import (
	"context"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

type Repository interface {
	CreateUserKey(ctx context.Context, key *models.UserAPIKey) error
	CreateTeamKey(ctx context.Context, key *models.TeamAPIKey) error
	GetUserKeyByPrefix(ctx context.Context, prefix string) (*models.UserAPIKey, error)
	GetTeamKeyByPrefix(ctx context.Context, prefix string) (*models.TeamAPIKey, error)
	TouchTeamKey(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeUserKey(ctx context.Context, prefix string) error
	RevokeTeamKey(ctx context.Context, prefix string) error
	SetTeamKeyStatus(ctx context.Context, prefix string, status models.KeyStatus) error
}
