package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/memory"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/principals"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/subscriptions"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subFixture struct {
	svc  *SubscriptionService
	rm   *memory.RepositoryManager
	mock sqlmock.Sqlmock
	team models.Team
}

func newSubFixture(t *testing.T, limit int) *subFixture {
	t.Helper()
	db, mock := newTxDB(t)
	rm := memory.NewRepositoryManager()
	team := models.Team{ID: uuid.New(), Name: "blue", ActiveBilling: true, FeedLimit: limit}
	rm.Store.PutTeam(team)
	return &subFixture{svc: NewSubscriptionService(db, rm, logging.Nop()), rm: rm, mock: mock, team: team}
}

func (f *subFixture) publicFeed() uuid.UUID {
	id := uuid.New()
	f.rm.Store.PutFeed(models.Feed{ID: id, IsPublic: true})
	return id
}

func (f *subFixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.rm.Subscriptions(nil).CountByTeam(context.Background(), f.team.ID)
	require.NoError(t, err)
	return n
}

func TestSubscribe_UpToLimit(t *testing.T) {
	f := newSubFixture(t, 2)
	ctx := context.Background()

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Subscribe(ctx, &f.team, f.publicFeed()))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Subscribe(ctx, &f.team, f.publicFeed()))
	assert.Equal(t, 2, f.count(t))

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	err := f.svc.Subscribe(ctx, &f.team, f.publicFeed())
	require.ErrorIs(t, err, common.ErrLimitExceeded)

	var apiErr *common.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, common.EntitlementErrorCode, apiErr.Code)
	assert.Equal(t, 2, f.count(t))
}

func TestSubscribe_UnlimitedWhenZero(t *testing.T) {
	f := newSubFixture(t, 0)
	for i := 0; i < 5; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
		require.NoError(t, f.svc.Subscribe(context.Background(), &f.team, f.publicFeed()))
	}
	assert.Equal(t, 5, f.count(t))
}

func TestSubscribe_Duplicate(t *testing.T) {
	f := newSubFixture(t, 5)
	feedID := f.publicFeed()

	for i := 0; i < 2; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
		require.NoError(t, f.svc.Subscribe(context.Background(), &f.team, feedID))
	}
	assert.Equal(t, 1, f.count(t))
}

func TestSubscribe_MissingFeed(t *testing.T) {
	f := newSubFixture(t, 5)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	err := f.svc.Subscribe(context.Background(), &f.team, uuid.New())
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Zero(t, f.count(t))
}

func TestSubscribe_PrivateFeed(t *testing.T) {
	f := newSubFixture(t, 5)
	id := uuid.New()
	f.rm.Store.PutFeed(models.Feed{ID: id})

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	require.ErrorIs(t, f.svc.Subscribe(context.Background(), &f.team, id), common.ErrValidation)
	assert.False(t, f.rm.Store.Subscribed(f.team.ID, id))
}

func TestSubscribe_TeamEntitlements(t *testing.T) {
	f := newSubFixture(t, 5)
	feedID := f.publicFeed()

	private := f.team
	private.IsPrivate = true
	err := f.svc.Subscribe(context.Background(), &private, feedID)
	require.ErrorIs(t, err, common.ErrValidation)
	var apiErr *common.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Team has no access to this API", apiErr.Message)

	unpaid := f.team
	unpaid.ActiveBilling = false
	err = f.svc.Subscribe(context.Background(), &unpaid, feedID)
	require.ErrorIs(t, err, common.ErrValidation)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, common.EntitlementErrorCode, apiErr.Code)

	assert.Zero(t, f.count(t))
}

func TestUnsubscribe(t *testing.T) {
	f := newSubFixture(t, 5)
	feedID := f.publicFeed()

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Subscribe(context.Background(), &f.team, feedID))

	require.NoError(t, f.svc.Unsubscribe(context.Background(), f.team.ID, feedID))
	assert.False(t, f.rm.Store.Subscribed(f.team.ID, feedID))

	// not subscribed any more: still fine
	require.NoError(t, f.svc.Unsubscribe(context.Background(), f.team.ID, feedID))

	require.ErrorIs(t, f.svc.Unsubscribe(context.Background(), f.team.ID, uuid.New()), common.ErrNotFound)
}

// callOrder records the order of team locks and subscription counts.
type callOrder struct {
	*memory.RepositoryManager
	calls *[]string
}

type orderedPrincipals struct {
	principals.Repository
	calls *[]string
}

func (p orderedPrincipals) LockTeam(ctx context.Context, id uuid.UUID) error {
	*p.calls = append(*p.calls, "lock")
	return p.Repository.LockTeam(ctx, id)
}

type orderedSubscriptions struct {
	subscriptions.Repository
	calls *[]string
}

func (s orderedSubscriptions) CountByTeam(ctx context.Context, teamID uuid.UUID) (int, error) {
	*s.calls = append(*s.calls, "count")
	return s.Repository.CountByTeam(ctx, teamID)
}

func (c callOrder) Principals(db dbx.DBTX) principals.Repository {
	return orderedPrincipals{Repository: c.RepositoryManager.Principals(db), calls: c.calls}
}

func (c callOrder) Subscriptions(db dbx.DBTX) subscriptions.Repository {
	return orderedSubscriptions{Repository: c.RepositoryManager.Subscriptions(db), calls: c.calls}
}

func TestSubscribe_LocksTeamBeforeCounting(t *testing.T) {
	f := newSubFixture(t, 2)
	var calls []string
	db, mock := newTxDB(t)
	svc := NewSubscriptionService(db, callOrder{RepositoryManager: f.rm, calls: &calls}, logging.Nop())

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, svc.Subscribe(context.Background(), &f.team, f.publicFeed()))
	assert.Equal(t, []string{"lock", "count"}, calls)

	unlimited := f.team
	unlimited.FeedLimit = 0
	calls = nil
	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, svc.Subscribe(context.Background(), &unlimited, f.publicFeed()))
	assert.Empty(t, calls, "no limit, nothing to serialize")
}

func TestSubscribe_UnknownTeamWithLimit(t *testing.T) {
	f := newSubFixture(t, 2)
	ghost := models.Team{ID: uuid.New(), ActiveBilling: true, FeedLimit: 2}

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	require.ErrorIs(t, f.svc.Subscribe(context.Background(), &ghost, f.publicFeed()), common.ErrNotFound)
}
