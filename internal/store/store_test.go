package store

import (
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tokenwatch/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state", "test.db"), logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesBuckets(t *testing.T) {
	db := openTestDB(t)

	alerts, err := NewAlertStore(db).Load()
	require.NoError(t, err)
	assert.Empty(t, alerts)

	_, found, err := db.GetUint64("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAlertStore_Update(t *testing.T) {
	db := openTestDB(t)
	s := NewAlertStore(db)

	err := s.Update(func(c AlertCollection) error {
		c[42] = &models.OwnerAlerts{
			Username: "alice",
			Alerts: []models.PriceAlert{
				{OwnerID: 42, TargetPrice: 0.01, Direction: models.DirectionAbove, Created: time.Now()},
			},
		}
		return nil
	})
	require.NoError(t, err)

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Contains(t, loaded, int64(42))
	assert.Equal(t, "alice", loaded[42].Username)
	assert.Len(t, loaded[42].Alerts, 1)
}

func TestAlertStore_UpdateAbortsOnError(t *testing.T) {
	db := openTestDB(t)
	s := NewAlertStore(db)

	boom := stderrors.New("boom")
	err := s.Update(func(c AlertCollection) error {
		c[1] = &models.OwnerAlerts{}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestAlertStore_ConcurrentUpdates(t *testing.T) {
	db := openTestDB(t)
	s := NewAlertStore(db)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(func(c AlertCollection) error {
				owner := c[7]
				if owner == nil {
					owner = &models.OwnerAlerts{}
					c[7] = owner
				}
				owner.Alerts = append(owner.Alerts, models.PriceAlert{OwnerID: 7, TargetPrice: 1})
				return nil
			})
		}()
	}
	wg.Wait()

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, loaded[7].Alerts, 20)
}

func TestWalletStore_PutGet(t *testing.T) {
	db := openTestDB(t)
	s := NewWalletStore(db)

	result := &models.WalletScanResult{
		InTxns:           []models.TransferSummary{{BlockNumber: 10, Amount: decimal.NewFromInt(5), TxHash: "0x01"}},
		TotalIn:          decimal.NewFromInt(5),
		BuyCount:         1,
		LastScannedBlock: 100,
		LastUpdated:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.Put("0xABCDEF0000000000000000000000000000000001", result))

	got, err := s.Get("0xabcdef0000000000000000000000000000000001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, result.TotalIn.Equal(got.TotalIn))
	assert.True(t, result.LastUpdated.Equal(got.LastUpdated))
	assert.Equal(t, 1, got.BuyCount)

	missing, err := s.Get("0x0000000000000000000000000000000000000002")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChatSettingsStore(t *testing.T) {
	db := openTestDB(t)
	s := NewChatSettingsStore(db)

	def, err := s.Get(-100)
	require.NoError(t, err)
	assert.False(t, def.BuyAlertsEnabled)
	assert.False(t, def.SellAlertsEnabled)
	assert.Zero(t, def.MinUSD)

	updated, err := s.Update(-100, func(c *models.ChatAlertSetting) {
		c.BuyAlertsEnabled = true
		c.MinUSD = 250
	})
	require.NoError(t, err)
	assert.True(t, updated.BuyAlertsEnabled)

	all, err := s.All()
	require.NoError(t, err)
	assert.Equal(t, 250.0, all[-100].MinUSD)
}

func TestMetaUint64(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutUint64("last_tail_height", 123456))
	v, found, err := db.GetUint64("last_tail_height")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(123456), v)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := Open(path, logrus.New())
	require.NoError(t, err)
	require.NoError(t, db.PutUint64("k", 9))
	require.NoError(t, db.Close())

	db, err = Open(path, logrus.New())
	require.NoError(t, err)
	defer db.Close()

	v, _, err := db.GetUint64("k")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), v)
}

func TestOpen_LockedByOtherHandle(t *testing.T) {
	old := lockTimeout
	lockTimeout = 50 * time.Millisecond
	t.Cleanup(func() { lockTimeout = old })

	path := filepath.Join(t.TempDir(), "locked.db")
	first, err := Open(path, logrus.New())
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(path, logrus.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestTrackedStore(t *testing.T) {
	db := openTestDB(t)
	s := NewTrackedStore(db)
	const wallet = "0xAbCdEf0000000000000000000000000000000001"

	added, err := s.Add(7, "alice", wallet, "Whale1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add(7, "alice", "0xabcdef0000000000000000000000000000000001", "")
	require.NoError(t, err)
	assert.False(t, added, "地址大小写不同也视为重复")

	added, err = s.Add(7, "alice", "0x0000000000000000000000000000000000000002", "")
	require.NoError(t, err)
	assert.True(t, added)

	list, err := s.List(7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Whale1", list[0].Label)
	assert.Equal(t, "0x0000000000000000000000000000000000000002", list[1].Label)
	assert.False(t, list[0].Added.IsZero())

	other, err := s.List(8)
	require.NoError(t, err)
	assert.Empty(t, other)

	removed, err := s.Remove(7, "0xABCDEF0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(7, wallet)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.Remove(99, wallet)
	require.NoError(t, err)
	assert.False(t, removed)

	list, err = s.List(7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0x0000000000000000000000000000000000000002", list[0].Address)
}
