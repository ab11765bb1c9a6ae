package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	catalogcache "github.com/smallbiznis/catalog/internal/catalog/cache"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/catalog/repository"
	"github.com/smallbiznis/catalog/internal/catalog/upstream"
	"github.com/smallbiznis/catalog/internal/clock"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/migration"
	"github.com/smallbiznis/catalog/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var observed = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(context.Background(), db))
	return db
}

func item(externalID int64, title string, at time.Time) domain.Item {
	return domain.Item{
		ExternalID:  externalID,
		Title:       title,
		Price:       decimal.RequireFromString("22.30"),
		Description: "Slim-fitting style, contrast raglan long sleeve",
		Category:    "men's clothing",
		ImageRef:    "https://example.test/71-3HjGNDUL.jpg",
		RatingValue: 4.1,
		RatingCount: 259,
		ObservedAt:  at,
	}
}

// flakyUpstream fails the first `failures` List calls.
type flakyUpstream struct {
	mu       sync.Mutex
	items    []domain.Item
	failures int
	calls    int
}

func (u *flakyUpstream) List(context.Context) ([]domain.Item, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.calls <= u.failures {
		return nil, &upstream.Error{Op: "list", Reason: upstream.ReasonTransport, Err: errors.New("connection refused")}
	}
	return u.items, nil
}

func (u *flakyUpstream) Get(context.Context, int64) (*domain.Item, error) {
	return nil, domain.ErrUpstreamUnavailable
}

func (u *flakyUpstream) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

type fixture struct {
	db       *gorm.DB
	cache    *catalogcache.MemoryCache
	upstream *flakyUpstream
	clock    *clock.FakeClock
	handler  *Handler
}

func newFixture(t *testing.T, locker *ratelimit.Locker) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:       setupDB(t),
		clock:    clock.NewFakeClock(observed),
		upstream: &flakyUpstream{},
	}
	f.cache = catalogcache.NewMemoryCache(f.clock)
	f.handler = NewHandler(HandlerParams{
		DB:       f.db,
		Log:      zaptest.NewLogger(t),
		Config:   DefaultConfig(),
		Repo:     repository.Provide(),
		Cache:    f.cache,
		Upstream: f.upstream,
		Tunables: config.NewStaticTunables(config.Tunables{CacheTTLSeconds: 300, MaxRetries: 3, RetryDelay: time.Millisecond}),
		Node:     node,
		Clock:    f.clock,
		Locker:   locker,
	})
	return f
}

func (f *fixture) liveRows(t *testing.T) []domain.CatalogItem {
	t.Helper()
	rows, err := repository.Provide().ListLive(context.Background(), f.db)
	require.NoError(t, err)
	return rows
}

func TestHandleUpsertOneWritesStoreAndCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	task := domain.NewTask(ctx, domain.TaskUpsertOne, []domain.Item{item(1, "Backpack", observed)}, true)
	followUps, err := f.handler.Handle(ctx, task)
	require.NoError(t, err)
	assert.Empty(t, followUps)

	rows := f.liveRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].ExternalID)
	assert.NotZero(t, rows[0].ID)

	cached, ok := f.cache.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "Backpack", cached.Title)
}

func TestHandleUpsertIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	task := domain.NewTask(ctx, domain.TaskUpsertOne, []domain.Item{item(7, "Jacket", observed)}, false)
	for i := 0; i < 3; i++ {
		_, err := f.handler.Handle(ctx, task)
		require.NoError(t, err)
	}

	repriced := item(7, "Jacket", observed)
	repriced.Price = decimal.RequireFromString("19.99")
	_, err := f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskUpsertOne, []domain.Item{repriced}, false))
	require.NoError(t, err)

	rows := f.liveRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "Jacket", rows[0].Title)
	assert.True(t, decimal.RequireFromString("19.99").Equal(rows[0].Price), "got price %s", rows[0].Price)

	_, cached := f.cache.Get(ctx, 7)
	assert.False(t, cached, "populate_cache=false must not touch the cache")
}

func TestHandleUpsertNewerObservationWins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskUpsertOne,
		[]domain.Item{item(3, "new title", observed.Add(time.Minute))}, false))
	require.NoError(t, err)
	_, err = f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskUpsertOne,
		[]domain.Item{item(3, "old title", observed)}, false))
	require.NoError(t, err)

	rows := f.liveRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "new title", rows[0].Title)
}

func TestHandleUpsertManyDropsInvalidItems(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bad := item(2, "negative", observed)
	bad.Price = decimal.NewFromInt(-1)
	task := domain.NewTask(ctx, domain.TaskUpsertMany, []domain.Item{item(1, "ok", observed), bad, item(3, "ok too", observed)}, true)

	_, err := f.handler.Handle(ctx, task)
	require.NoError(t, err)

	rows := f.liveRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].ExternalID)
	assert.Equal(t, int64(3), rows[1].ExternalID)
	assert.Len(t, f.cache.GetAll(ctx), 2)
}

func TestHandleUpsertOneInvalidItem(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bad := item(4, "bad rating", observed)
	bad.RatingCount = -3
	_, err := f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskUpsertOne, []domain.Item{bad}, true))
	require.ErrorIs(t, err, domain.ErrInvalidItem)

	assert.Empty(t, f.liveRows(t))
	_, cached := f.cache.Get(ctx, 4)
	assert.False(t, cached)
}

func TestHandleUpsertDefaultsObservedAt(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	task := domain.NewTask(ctx, domain.TaskUpsertOne, []domain.Item{item(5, "no timestamp", time.Time{})}, false)
	task.EnqueuedAt = observed.Add(time.Hour)
	_, err := f.handler.Handle(ctx, task)
	require.NoError(t, err)

	rows := f.liveRows(t)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].UpdatedAt.Equal(observed.Add(time.Hour)))
}

func TestHandleRefreshPopulatesCacheAndSchedulesWriteBack(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.items = []domain.Item{item(1, "a", observed), item(2, "b", observed)}
	ctx := context.Background()

	followUps, err := f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
	require.NoError(t, err)
	require.Len(t, followUps, 1)
	assert.Equal(t, domain.TaskUpsertMany, followUps[0].Kind)
	assert.False(t, followUps[0].PopulateCache)
	assert.Len(t, followUps[0].Items, 2)
	assert.Len(t, f.cache.GetAll(ctx), 2)
	assert.Empty(t, f.liveRows(t), "store writes happen in the follow-up")
}

func TestHandleRefreshCoalescesLocally(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.items = []domain.Item{item(1, "a", observed)}
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
	require.NoError(t, err)
	followUps, err := f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
	require.NoError(t, err)
	assert.Empty(t, followUps)
	assert.Equal(t, 1, f.upstream.Calls())

	f.clock.Advance(DefaultConfig().RefreshLockTTL)
	_, err = f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
	require.NoError(t, err)
	assert.Equal(t, 2, f.upstream.Calls())
}

func TestHandleRefreshFailureReleasesGate(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.failures = 1
	f.upstream.items = []domain.Item{item(1, "a", observed)}
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	followUps, err := f.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
	require.NoError(t, err)
	assert.Len(t, followUps, 1)
}

func TestHandleRefreshCoalescesAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewLocker(client)

	first := newFixture(t, locker)
	first.upstream.items = []domain.Item{item(1, "a", observed)}
	ctx := context.Background()

	followUps, err := first.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
	require.NoError(t, err)
	assert.Len(t, followUps, 1)
	assert.True(t, mr.Exists(DefaultConfig().RefreshLockKey))

	// a second replica shares only Redis
	second := newFixture(t, locker)
	second.upstream.items = first.upstream.items
	followUps, err = second.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
	require.NoError(t, err)
	assert.Empty(t, followUps)
	assert.Equal(t, 0, second.upstream.Calls())

	mr.FastForward(DefaultConfig().RefreshLockTTL)
	followUps, err = second.handler.Handle(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
	require.NoError(t, err)
	assert.Len(t, followUps, 1)
}

func TestHandleUnknownKind(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.handler.Handle(context.Background(), domain.Task{Kind: "catalog.unknown"})
	require.ErrorIs(t, err, domain.ErrTaskDecode)
}
