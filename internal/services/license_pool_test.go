package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAllocateMarksKeysUsed(t *testing.T) {
	db := newTestDB(t)
	pool := NewLicensePool(db, metrics.New())
	owner := seedUser(t, db, "seller@example.com")
	sw := seedSoftware(t, db, owner.ID, "App", true, false)
	seedLicenses(t, db, sw, nil, "A", "B", "C")

	var alloc *Allocation
	err := inTx(t, db, func(tx *gorm.DB) error {
		var err error
		alloc, err = pool.Allocate(tx, AllocationQuery{SoftwareID: sw.ID, OwnerScope: &owner.ID, Quantity: 2})
		return err
	})
	require.NoError(t, err)
	require.Len(t, alloc.Keys, 2)
	require.Len(t, alloc.LicenseIDs, 2)

	var used []models.License
	require.NoError(t, db.Where("id IN ?", alloc.LicenseIDs).Find(&used).Error)
	for _, l := range used {
		require.True(t, l.IsActive)
		require.NotNil(t, l.UsedAt)
	}
	require.Len(t, unusedKeys(t, db, sw.ID), 1)
	require.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.LicensesAllocated))
}

func TestAllocateInsufficientStockMutatesNothing(t *testing.T) {
	db := newTestDB(t)
	pool := NewLicensePool(db, metrics.New())
	owner := seedUser(t, db, "seller@example.com")
	sw := seedSoftware(t, db, owner.ID, "App", true, false)
	seedLicenses(t, db, sw, nil, "A", "B", "C")

	before := unusedKeys(t, db, sw.ID)
	err := inTx(t, db, func(tx *gorm.DB) error {
		_, err := pool.Allocate(tx, AllocationQuery{SoftwareID: sw.ID, Quantity: 5})
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stock *StockError
	require.True(t, errors.As(err, &stock))
	require.Equal(t, 5, stock.Requested)
	require.Equal(t, 3, stock.Available)
	require.Equal(t, before, unusedKeys(t, db, sw.ID))
}

func TestAllocateValidatesDemand(t *testing.T) {
	db := newTestDB(t)
	pool := NewLicensePool(db, metrics.New())
	owner := seedUser(t, db, "seller@example.com")
	stranger := seedUser(t, db, "other@example.com")
	free := seedSoftware(t, db, owner.ID, "Freeware", false, false)
	scoped := seedSoftware(t, db, owner.ID, "Suite", true, true)
	otherSw := seedSoftware(t, db, owner.ID, "Other", true, true)
	foreignVersion := seedVersion(t, db, otherSw.ID, "windows", "1.0", "")

	allocate := func(q AllocationQuery) error {
		return inTx(t, db, func(tx *gorm.DB) error {
			_, err := pool.Allocate(tx, q)
			return err
		})
	}

	require.ErrorIs(t, allocate(AllocationQuery{SoftwareID: scoped.ID, Quantity: 0}), ErrInvalidInput)
	require.ErrorIs(t, allocate(AllocationQuery{SoftwareID: uuid.New(), Quantity: 1}), ErrNotFound)
	require.ErrorIs(t, allocate(AllocationQuery{SoftwareID: free.ID, Quantity: 1}), ErrInvalidInput)
	require.ErrorIs(t, allocate(AllocationQuery{SoftwareID: scoped.ID, Quantity: 1}), ErrInvalidInput)
	require.ErrorIs(t, allocate(AllocationQuery{SoftwareID: scoped.ID, VersionID: &foreignVersion.ID, Quantity: 1}), ErrNotFound)
	// another seller cannot see this software at all
	require.ErrorIs(t, allocate(AllocationQuery{SoftwareID: scoped.ID, OwnerScope: &stranger.ID, Quantity: 1}), ErrNotFound)
}

func TestAllocateVersionScopedOnlyDrawsFromThatVersion(t *testing.T) {
	db := newTestDB(t)
	pool := NewLicensePool(db, metrics.New())
	owner := seedUser(t, db, "seller@example.com")
	sw := seedSoftware(t, db, owner.ID, "Suite", true, true)
	win := seedVersion(t, db, sw.ID, "windows", "2024", "https://dl/win")
	mac := seedVersion(t, db, sw.ID, "macos", "2024", "https://dl/mac")
	seedLicenses(t, db, sw, &win.ID, "WIN-1")
	seedLicenses(t, db, sw, &mac.ID, "MAC-1", "MAC-2")

	var alloc *Allocation
	err := inTx(t, db, func(tx *gorm.DB) error {
		var err error
		alloc, err = pool.Allocate(tx, AllocationQuery{SoftwareID: sw.ID, VersionID: &win.ID, Quantity: 1})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"WIN-1"}, alloc.Keys)

	err = inTx(t, db, func(tx *gorm.DB) error {
		_, err := pool.Allocate(tx, AllocationQuery{SoftwareID: sw.ID, VersionID: &win.ID, Quantity: 1})
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestConcurrentAllocationsNeverShareKeys(t *testing.T) {
	db := newTestDB(t)
	pool := NewLicensePool(db, metrics.New())
	owner := seedUser(t, db, "seller@example.com")
	sw := seedSoftware(t, db, owner.ID, "App", true, false)

	const stock = 5
	keys := make([]string, stock)
	for i := range keys {
		keys[i] = fmt.Sprintf("KEY-%02d", i)
	}
	seedLicenses(t, db, sw, nil, keys...)

	const callers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		handed   = make(map[string]int)
		wins     int
		shortage int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var alloc *Allocation
			err := db.Transaction(func(tx *gorm.DB) error {
				var err error
				alloc, err = pool.Allocate(tx, AllocationQuery{SoftwareID: sw.ID, Quantity: 1})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
				for _, k := range alloc.Keys {
					handed[k]++
				}
			case errors.Is(err, ErrInsufficientStock):
				shortage++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, stock, wins)
	require.Equal(t, callers-stock, shortage)
	require.Len(t, handed, stock)
	for k, n := range handed {
		require.Equal(t, 1, n, "key %s handed out more than once", k)
	}
	require.Empty(t, unusedKeys(t, db, sw.ID))
}

func TestReleaseIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	pool := NewLicensePool(db, metrics.New())
	owner := seedUser(t, db, "seller@example.com")
	sw := seedSoftware(t, db, owner.ID, "App", true, false)
	seedLicenses(t, db, sw, nil, "A")

	var alloc *Allocation
	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		var err error
		alloc, err = pool.Allocate(tx, AllocationQuery{SoftwareID: sw.ID, Quantity: 1})
		return err
	}))

	for i, want := range []int64{1, 0} {
		var n int64
		require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
			var err error
			n, err = pool.Release(tx, alloc.LicenseIDs)
			return err
		}), "release #%d", i+1)
		require.Equal(t, want, n)

		var l models.License
		require.NoError(t, db.Take(&l, "id = ?", alloc.LicenseIDs[0]).Error)
		require.False(t, l.IsActive)
		require.Nil(t, l.UsedAt)
	}
}

func TestReleaseLicensesDropsOrderLinks(t *testing.T) {
	db := newTestDB(t)
	m := metrics.New()
	pool := NewLicensePool(db, m)
	orders := NewOrderService(db, pool, &recordingNotifier{}, m)
	owner := seedUser(t, db, "seller@example.com")
	sw := seedSoftware(t, db, owner.ID, "App", true, false)
	seedLicenses(t, db, sw, nil, "A", "B")

	caller := ownerCaller(owner)
	_, err := orders.Fulfill(context.Background(), caller, FulfillRequest{OrderNumber: "O1", ItemName: "App", Quantity: 2})
	require.NoError(t, err)

	var ids []uuid.UUID
	require.NoError(t, db.Model(&models.License{}).Where("license_key = ?", "A").Pluck("id", &ids).Error)

	n, err := pool.ReleaseLicenses(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var links int64
	require.NoError(t, db.Model(&models.OrderLicense{}).Where("license_id IN ?", ids).Count(&links).Error)
	require.Zero(t, links)
	require.Equal(t, []string{"A"}, unusedKeys(t, db, sw.ID))
}

func TestStock(t *testing.T) {
	db := newTestDB(t)
	pool := NewLicensePool(db, metrics.New())
	owner := seedUser(t, db, "seller@example.com")
	sw := seedSoftware(t, db, owner.ID, "App", true, false)
	seedLicenses(t, db, sw, nil, "A", "B", "C")

	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		_, err := pool.Allocate(tx, AllocationQuery{SoftwareID: sw.ID, Quantity: 1})
		return err
	}))

	level, err := pool.Stock(context.Background(), sw.ID, nil, &owner.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), level.Available)
	require.Equal(t, int64(1), level.Used)
}
