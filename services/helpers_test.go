package services

import (
	"sync"
	"testing"
	"time"

	"jtrace-service/grants"
	"jtrace-service/ledger"
	"jtrace-service/ledger/ledgertest"
	"jtrace-service/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	walletA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	walletC = "0xcccccccccccccccccccccccccccccccccccccccc"
	walletD = "0xdddddddddddddddddddddddddddddddddddddddd"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Record{}, &models.RecordLine{}, &models.LedgerRecord{}))
	return db
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func newTestLedger(t *testing.T) (*ledger.Client, *ledgertest.Contract) {
	t.Helper()
	contract := ledgertest.NewContract()
	client, err := newLedgerFor(contract)
	require.NoError(t, err)
	return client, contract
}

func newLedgerFor(contract *ledgertest.Contract) (*ledger.Client, error) {
	return ledger.NewClient(contract, ledgertest.ContractAddress, ledger.Options{
		ConfirmTimeout: time.Second,
		PollInterval:   time.Millisecond,
	}, zap.NewNop())
}

func newTestAccessService(t *testing.T, opts AccessOptions) (*AccessService, *ledgertest.Contract, grants.Store, *miniredis.Miniredis) {
	t.Helper()
	return newThrottledAccessService(t, 0, opts)
}

// newThrottledAccessService is newTestAccessService over a ledger client
// limited to readsPerSecond contract reads (0 means unlimited).
func newThrottledAccessService(t *testing.T, readsPerSecond float64, opts AccessOptions) (*AccessService, *ledgertest.Contract, grants.Store, *miniredis.Miniredis) {
	t.Helper()
	contract := ledgertest.NewContract()
	client, err := ledger.NewClient(contract, ledgertest.ContractAddress, ledger.Options{
		ConfirmTimeout: time.Second,
		PollInterval:   time.Millisecond,
		ReadsPerSecond: readsPerSecond,
	}, zap.NewNop())
	require.NoError(t, err)
	mr, rdb := newTestRedis(t)
	store := grants.NewRedisStore(rdb)
	svc := NewAccessService(client, store, grants.NewAuditStream(rdb, "", zap.NewNop()), opts, zap.NewNop())
	return svc, contract, store, mr
}

// stepClock returns successive fixed instants, one per call.
type stepClock struct {
	mu  sync.Mutex
	at  time.Time
	gap time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(c.gap)
	return c.at
}
