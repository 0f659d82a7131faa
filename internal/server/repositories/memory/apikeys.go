package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

type keyRepo Store

func (r *keyRepo) CreateUserKey(_ context.Context, key *models.UserAPIKey) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.userKeys[key.Prefix]; ok {
		return common.ErrAlreadyExists
	}
	key.CreatedAt = time.Now()
	s.userKeys[key.Prefix] = *key
	return nil
}

func (r *keyRepo) CreateTeamKey(_ context.Context, key *models.TeamAPIKey) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.teamKeys[key.Prefix]; ok {
		return common.ErrAlreadyExists
	}
	if key.Status == "" {
		key.Status = models.KeyStatusActive
	}
	key.CreatedAt = time.Now()
	s.teamKeys[key.Prefix] = *key
	return nil
}

func (r *keyRepo) GetUserKeyByPrefix(_ context.Context, prefix string) (*models.UserAPIKey, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	k, ok := s.userKeys[prefix]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &k, nil
}

func (r *keyRepo) GetTeamKeyByPrefix(_ context.Context, prefix string) (*models.TeamAPIKey, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	k, ok := s.teamKeys[prefix]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &k, nil
}

func (r *keyRepo) TouchTeamKey(_ context.Context, id uuid.UUID, at time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for p, k := range s.teamKeys {
		if k.ID == id {
			k.LastUsed = &at
			s.teamKeys[p] = k
		}
	}
	return nil
}

func (r *keyRepo) RevokeUserKey(_ context.Context, prefix string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.userKeys[prefix]
	if !ok {
		return common.ErrNotFound
	}
	k.Revoked = true
	s.userKeys[prefix] = k
	return nil
}

func (r *keyRepo) RevokeTeamKey(_ context.Context, prefix string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.teamKeys[prefix]
	if !ok {
		return common.ErrNotFound
	}
	k.Revoked = true
	s.teamKeys[prefix] = k
	return nil
}

func (r *keyRepo) SetTeamKeyStatus(_ context.Context, prefix string, status models.KeyStatus) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.teamKeys[prefix]
	if !ok {
		return common.ErrNotFound
	}
	k.Status = status
	s.teamKeys[prefix] = k
	return nil
}
