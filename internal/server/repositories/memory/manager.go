// Package memory is an in-process RepositoryManager. All repositories share
// one mutex-guarded store and ignore the DBTX handle, so a transaction run
// through dbx.WithTx is only as isolated as each single call.
package memory

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/apikeys"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/feeds"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/principals"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/subscriptions"
	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	users       map[uuid.UUID]models.User
	teams       map[uuid.UUID]models.Team
	memberships map[[2]uuid.UUID]bool
	userKeys    map[string]models.UserAPIKey
	teamKeys    map[string]models.TeamAPIKey
	feeds       map[uuid.UUID]models.Feed
	subs        map[[2]uuid.UUID]models.Subscription
	claimedAt   map[uuid.UUID]time.Time

	// Err, when set, is returned by every repository call.
	Err error
}

func NewStore() *Store {
	return &Store{
		users:       map[uuid.UUID]models.User{},
		teams:       map[uuid.UUID]models.Team{},
		memberships: map[[2]uuid.UUID]bool{},
		userKeys:    map[string]models.UserAPIKey{},
		teamKeys:    map[string]models.TeamAPIKey{},
		feeds:       map[uuid.UUID]models.Feed{},
		subs:        map[[2]uuid.UUID]models.Subscription{},
		claimedAt:   map[uuid.UUID]time.Time{},
	}
}

// RepositoryManager exposes a Store through the repomanager interface.
type RepositoryManager struct {
	Store *Store
}

func NewRepositoryManager() *RepositoryManager {
	return &RepositoryManager{Store: NewStore()}
}

func (m *RepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *RepositoryManager) APIKeys(dbx.DBTX) apikeys.Repository { return (*keyRepo)(m.Store) }

func (m *RepositoryManager) Principals(dbx.DBTX) principals.Repository {
	return (*principalRepo)(m.Store)
}

func (m *RepositoryManager) Feeds(dbx.DBTX) feeds.Repository { return (*feedRepo)(m.Store) }

func (m *RepositoryManager) Subscriptions(dbx.DBTX) subscriptions.Repository {
	return (*subRepo)(m.Store)
}

// Seeding helpers.

func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) PutTeam(t models.Team, members ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[t.ID] = t
	for _, u := range members {
		s.memberships[[2]uuid.UUID{t.ID, u}] = true
	}
}

func (s *Store) PutFeed(f models.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[f.ID] = cloneFeed(f)
}

// PutClaimedFeed stores f as polling, claimed at the given time.
func (s *Store) PutClaimedFeed(f models.Feed, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.Polling = true
	s.feeds[f.ID] = cloneFeed(f)
	s.claimedAt[f.ID] = at
}

// Feed returns a copy of the stored feed.
func (s *Store) Feed(id uuid.UUID) (models.Feed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[id]
	return cloneFeed(f), ok
}

func (s *Store) Subscribed(teamID, feedID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[[2]uuid.UUID{teamID, feedID}]
	return ok
}

func (s *Store) TeamKey(prefix string) (models.TeamAPIKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.teamKeys[prefix]
	return k, ok
}

func cloneDoc(d models.Document) models.Document {
	if d == nil {
		return nil
	}
	out := make(models.Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func cloneFeed(f models.Feed) models.Feed {
	f.Metadata = cloneDoc(f.Metadata)
	f.JobMetadata = cloneDoc(f.JobMetadata)
	if f.NextPollingTime != nil {
		t := *f.NextPollingTime
		f.NextPollingTime = &t
	}
	if f.ActiveJobID != nil {
		id := *f.ActiveJobID
		f.ActiveJobID = &id
	}
	if f.ProfileID != nil {
		id := *f.ProfileID
		f.ProfileID = &id
	}
	return f
}
