package memory

import (
	"context"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

type principalRepo Store

func (r *principalRepo) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &u, nil
}

func (r *principalRepo) GetTeam(_ context.Context, id uuid.UUID) (*models.Team, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	t, ok := s.teams[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &t, nil
}

func (r *principalRepo) IsMember(_ context.Context, teamID, userID uuid.UUID) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	return s.memberships[[2]uuid.UUID{teamID, userID}], nil
}

// LockTeam only checks that the team exists. The store mutex already
// serializes every call.
func (r *principalRepo) LockTeam(_ context.Context, id uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.teams[id]; !ok {
		return common.ErrNotFound
	}
	return nil
}
