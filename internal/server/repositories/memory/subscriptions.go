package memory

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

type subRepo Store

func (r *subRepo) Create(_ context.Context, sub *models.Subscription) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	key := [2]uuid.UUID{sub.TeamID, sub.FeedID}
	if _, ok := s.subs[key]; ok {
		return false, nil
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	s.subs[key] = *sub
	return true, nil
}

func (r *subRepo) Delete(_ context.Context, teamID, feedID uuid.UUID) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	key := [2]uuid.UUID{teamID, feedID}
	if _, ok := s.subs[key]; !ok {
		return 0, nil
	}
	delete(s.subs, key)
	return 1, nil
}

func (r *subRepo) CountByTeam(_ context.Context, teamID uuid.UUID) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for k := range s.subs {
		if k[0] == teamID {
			n++
		}
	}
	return n, nil
}

func (r *subRepo) Exists(_ context.Context, teamID, feedID uuid.UUID) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	_, ok := s.subs[[2]uuid.UUID{teamID, feedID}]
	return ok, nil
}

func (r *subRepo) FeedIDsByTeam(_ context.Context, teamID uuid.UUID) ([]uuid.UUID, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.feedIDsLocked(teamID), nil
}

func (r *subRepo) SubscribedFeeds(_ context.Context, teamID uuid.UUID) ([]*models.SubscribedFeed, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.SubscribedFeed
	for _, id := range s.feedIDsLocked(teamID) {
		f, ok := s.feeds[id]
		if !ok {
			continue
		}
		f = cloneFeed(f)
		out = append(out, &models.SubscribedFeed{
			ID: f.ID, ProfileID: f.ProfileID, Metadata: f.Metadata, NextPollingTime: f.NextPollingTime,
		})
	}
	return out, nil
}

func (s *Store) feedIDsLocked(teamID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for k := range s.subs {
		if k[0] == teamID {
			ids = append(ids, k[1])
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
