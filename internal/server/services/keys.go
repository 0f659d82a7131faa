package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/cryptox"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// prefix collisions are retried this many times before giving up
const issueAttempts = 3

var generateKey = cryptox.GenerateKey

// IssuedKey is returned exactly once, when the key is created. Key is the
// plaintext "<prefix>.<secret>" value and is not stored anywhere.
type IssuedKey struct {
	ID     uuid.UUID
	Prefix string
	Key    string
}

type KeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

func NewKeyService(db *sql.DB, rm repomanager.RepositoryManager, log logging.Logger) *KeyService {
	return &KeyService{db: db, repomanager: rm, log: log.With("module", "keys")}
}

// IssueUserKey creates a key that authenticates as userID.
func (s *KeyService) IssueUserKey(ctx context.Context, userID uuid.UUID, name string) (*IssuedKey, error) {
	if _, err := s.repomanager.Principals(s.db).GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}

	issued, err := s.issue(ctx, func(k *cryptox.Key, id uuid.UUID) error {
		return s.repomanager.APIKeys(s.db).CreateUserKey(ctx, &models.UserAPIKey{
			APIKey: models.APIKey{ID: id, Prefix: k.Prefix, HashedKey: k.Hash, Name: name},
			UserID: userID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "user key issued", "user_id", userID, "prefix", issued.Prefix)
	return issued, nil
}

// IssueTeamKey creates an active key for teamID. The team must be allowed
// API access; a creating user, when given, must belong to the team.
func (s *KeyService) IssueTeamKey(ctx context.Context, teamID uuid.UUID, userID *uuid.UUID, name string) (*IssuedKey, error) {
	principals := s.repomanager.Principals(s.db)
	team, err := principals.GetTeam(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("team %s: %w", teamID, err)
	}
	if !team.AllowedAPIAccess {
		return nil, fmt.Errorf("team %s: %w: api access is not enabled", teamID, common.ErrPermissionDenied)
	}
	if userID != nil {
		ok, err := principals.IsMember(ctx, teamID, *userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("user %s: %w: not a member of team %s", *userID, common.ErrPermissionDenied, teamID)
		}
	}

	issued, err := s.issue(ctx, func(k *cryptox.Key, id uuid.UUID) error {
		return s.repomanager.APIKeys(s.db).CreateTeamKey(ctx, &models.TeamAPIKey{
			APIKey: models.APIKey{ID: id, Prefix: k.Prefix, HashedKey: k.Hash, Name: name},
			TeamID: teamID,
			UserID: userID,
			Status: models.KeyStatusActive,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "team key issued", "team_id", teamID, "prefix", issued.Prefix)
	return issued, nil
}

func (s *KeyService) issue(ctx context.Context, store func(*cryptox.Key, uuid.UUID) error) (*IssuedKey, error) {
	for range issueAttempts {
		k, err := generateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		id := uuid.New()
		err = store(k, id)
		if errors.Is(err, common.ErrAlreadyExists) {
			s.log.Warn(ctx, "key prefix collision, retrying", "prefix", k.Prefix)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &IssuedKey{ID: id, Prefix: k.Prefix, Key: k.Full}, nil
	}
	return nil, fmt.Errorf("issue key: %w", common.ErrAlreadyExists)
}

func (s *KeyService) RevokeUserKey(ctx context.Context, prefix string) error {
	if err := s.repomanager.APIKeys(s.db).RevokeUserKey(ctx, prefix); err != nil {
		return err
	}
	s.log.Info(ctx, "user key revoked", "prefix", prefix)
	return nil
}

func (s *KeyService) RevokeTeamKey(ctx context.Context, prefix string) error {
	if err := s.repomanager.APIKeys(s.db).RevokeTeamKey(ctx, prefix); err != nil {
		return err
	}
	s.log.Info(ctx, "team key revoked", "prefix", prefix)
	return nil
}

// SetTeamKeyBlocked blocks or unblocks a team key. Blocked keys verify but
// are refused with ErrPermissionDenied.
func (s *KeyService) SetTeamKeyBlocked(ctx context.Context, prefix string, blocked bool) error {
	status := models.KeyStatusActive
	if blocked {
		status = models.KeyStatusBlocked
	}
	if err := s.repomanager.APIKeys(s.db).SetTeamKeyStatus(ctx, prefix, status); err != nil {
		return err
	}
	s.log.Info(ctx, "team key status changed", "prefix", prefix, "status", status)
	return nil
}
