package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/feeds"
	"github.com/google/uuid"
)

type feedRepo Store

func (r *feedRepo) lock() (*Store, func()) {
	s := (*Store)(r)
	s.mu.Lock()
	return s, s.mu.Unlock
}

func (r *feedRepo) Create(_ context.Context, feed *models.Feed) error {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.feeds[feed.ID]; ok {
		return common.ErrAlreadyExists
	}
	s.feeds[feed.ID] = cloneFeed(*feed)
	return nil
}

func (r *feedRepo) Get(_ context.Context, id uuid.UUID) (*models.Feed, error) {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	f, ok := s.feeds[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	f = cloneFeed(f)
	return &f, nil
}

func (r *feedRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Feed, error) {
	return r.Get(ctx, id)
}

func (r *feedRepo) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return false, s.Err
	}
	_, ok := s.feeds[id]
	return ok, nil
}

func (s *Store) filteredLocked(f feeds.ListFilter, keep func(models.Feed) bool) []models.Feed {
	var out []models.Feed
	for _, feed := range s.feeds {
		if f.PublicOnly && !feed.IsPublic {
			continue
		}
		if f.ProfileID != nil && (feed.ProfileID == nil || *feed.ProfileID != *f.ProfileID) {
			continue
		}
		if f.Title != "" && !strings.Contains(strings.ToLower(feed.Metadata.String("title")), strings.ToLower(f.Title)) {
			continue
		}
		if keep != nil && !keep(feed) {
			continue
		}
		out = append(out, cloneFeed(feed))
	}

	key, desc, ok := feeds.SortKey(f.OrderBy)
	sort.SliceStable(out, func(i, j int) bool {
		if ok {
			a, b := out[i].Metadata[key], out[j].Metadata[key]
			if c := compare(a, b); c != 0 {
				return (c < 0) != desc
			}
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func compare(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	return 0
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		return items
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (r *feedRepo) List(_ context.Context, f feeds.ListFilter) ([]*models.Feed, int, error) {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	all := s.filteredLocked(f, nil)
	var out []*models.Feed
	for _, feed := range page(all, f.Limit, f.Offset) {
		feed := feed
		out = append(out, &feed)
	}
	return out, len(all), nil
}

func (r *feedRepo) ListForTeam(_ context.Context, teamID uuid.UUID, f feeds.TeamFilter) ([]*models.TeamFeed, int, error) {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	f.PublicOnly = true
	subscribed := func(feed models.Feed) bool {
		_, ok := s.subs[[2]uuid.UUID{teamID, feed.ID}]
		return ok
	}
	var keep func(models.Feed) bool
	if f.OnlySubscribed {
		keep = subscribed
	}
	all := s.filteredLocked(f.ListFilter, keep)
	var out []*models.TeamFeed
	for _, feed := range page(all, f.Limit, f.Offset) {
		out = append(out, &models.TeamFeed{Feed: feed, IsSubscribed: subscribed(feed)})
	}
	return out, len(all), nil
}

func (r *feedRepo) GetForTeam(_ context.Context, teamID, id uuid.UUID) (*models.TeamFeed, error) {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	feed, ok := s.feeds[id]
	if !ok || !feed.IsPublic {
		return nil, common.ErrNotFound
	}
	_, sub := s.subs[[2]uuid.UUID{teamID, id}]
	return &models.TeamFeed{Feed: cloneFeed(feed), IsSubscribed: sub}, nil
}

func (r *feedRepo) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*models.Feed, error) {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.Feed
	for _, id := range ids {
		if f, ok := s.feeds[id]; ok {
			f = cloneFeed(f)
			out = append(out, &f)
		}
	}
	return out, nil
}

func (r *feedRepo) Update(_ context.Context, feed *models.Feed) error {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.feeds[feed.ID]; !ok {
		return common.ErrNotFound
	}
	s.feeds[feed.ID] = cloneFeed(*feed)
	return nil
}

func (r *feedRepo) Delete(_ context.Context, id uuid.UUID) error {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.feeds[id]; !ok {
		return common.ErrNotFound
	}
	delete(s.feeds, id)
	for k := range s.subs {
		if k[1] == id {
			delete(s.subs, k)
		}
	}
	return nil
}

func (r *feedRepo) ClaimDue(_ context.Context, now, staleBefore time.Time) ([]*models.Feed, error) {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.Feed
	for id, f := range s.feeds {
		if f.PollingScheduleMinute <= 0 {
			continue
		}
		if f.Polling {
			if at, ok := s.claimedAt[id]; ok && at.After(staleBefore) {
				continue
			}
		}
		if f.NextPollingTime != nil && f.NextPollingTime.After(now) {
			continue
		}
		f.Polling = true
		s.feeds[id] = f
		s.claimedAt[id] = now
		c := cloneFeed(f)
		out = append(out, &c)
	}
	return out, nil
}

func (r *feedRepo) ReleasePolling(_ context.Context, id uuid.UUID) error {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return s.Err
	}
	if f, ok := s.feeds[id]; ok {
		f.Polling = false
		s.feeds[id] = f
	}
	delete(s.claimedAt, id)
	return nil
}

func (r *feedRepo) ListWithActiveJob(_ context.Context) ([]*models.Feed, error) {
	s, unlock := r.lock()
	defer unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.Feed
	for _, f := range s.feeds {
		if f.ActiveJobID != nil {
			c := cloneFeed(f)
			out = append(out, &c)
		}
	}
	return out, nil
}
