package services

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestExtendOrCreate(t *testing.T) {
	db := newTestDB(t)
	subs := NewSubscriptionService(db)
	user := seedUser(t, db, "buyer@example.com")
	plan := seedPlan(t, db, "Monthly", 30, 100000)
	now := time.Now().UTC().Truncate(time.Second)

	var created *models.Subscription
	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		var err error
		created, err = subs.ExtendOrCreate(tx, user.ID, &plan.ID, 30, now)
		return err
	}))
	require.Equal(t, now, created.StartDate)
	require.Equal(t, now.AddDate(0, 0, 30), created.EndDate)

	// an early renewal stacks on the remaining time
	var extended *models.Subscription
	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		var err error
		extended, err = subs.ExtendOrCreate(tx, user.ID, &plan.ID, 7, now.AddDate(0, 0, 10))
		return err
	}))
	require.Equal(t, created.ID, extended.ID)
	require.WithinDuration(t, now.AddDate(0, 0, 37), extended.EndDate, time.Second)

	// after it lapsed a new one starts from the renewal date
	renewal := now.AddDate(0, 0, 40)
	var fresh *models.Subscription
	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		var err error
		fresh, err = subs.ExtendOrCreate(tx, user.ID, nil, 30, renewal)
		return err
	}))
	require.NotEqual(t, created.ID, fresh.ID)
	require.Equal(t, renewal.AddDate(0, 0, 30), fresh.EndDate)

	err := inTx(t, db, func(tx *gorm.DB) error {
		_, err := subs.ExtendOrCreate(tx, user.ID, nil, 0, now)
		return err
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestExpireLapsedAndCurrent(t *testing.T) {
	db := newTestDB(t)
	subs := NewSubscriptionService(db)
	user := seedUser(t, db, "buyer@example.com")
	ctx := context.Background()

	_, err := subs.Current(ctx, user.ID)
	require.ErrorIs(t, err, ErrNotFound)

	start := time.Now().UTC().AddDate(0, 0, -31)
	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		_, err := subs.ExtendOrCreate(tx, user.ID, nil, 30, start)
		return err
	}))

	n, err := subs.ExpireLapsed(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var sub models.Subscription
	require.NoError(t, db.Take(&sub, "user_id = ?", user.ID).Error)
	require.Equal(t, models.SubscriptionExpired, sub.Status)

	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		_, err := subs.ExtendOrCreate(tx, user.ID, nil, 30, time.Now().UTC())
		return err
	}))
	current, err := subs.Current(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionActive, current.Status)

	n, err = subs.ExpireLapsed(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
