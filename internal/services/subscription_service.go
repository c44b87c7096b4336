package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSubscriptionService(db *gorm.DB) *SubscriptionService {
	return &SubscriptionService{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// ExtendOrCreate grants durationDays of access inside the caller's
// transaction. An active subscription is extended from its current end date
// so early renewals lose no time; otherwise a new one starts at now.
func (s *SubscriptionService) ExtendOrCreate(tx *gorm.DB, userID uuid.UUID, planID *uuid.UUID, durationDays int, now time.Time) (*models.Subscription, error) {
	if durationDays < 1 {
		return nil, fmt.Errorf("%w: duration must be at least one day", ErrInvalidInput)
	}

	var sub models.Subscription
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ? AND end_date > ?", userID, models.SubscriptionActive, now).
		Order("end_date DESC").
		Take(&sub).Error

	switch {
	case err == nil:
		updates := map[string]interface{}{
			"end_date":       sub.EndDate.AddDate(0, 0, durationDays),
			"payment_status": models.SubscriptionPaymentPaid,
		}
		if planID != nil {
			updates["plan_id"] = *planID
		}
		if err := tx.Model(&sub).Updates(updates).Error; err != nil {
			return nil, err
		}
		if err := tx.Take(&sub, "id = ?", sub.ID).Error; err != nil {
			return nil, err
		}
		return &sub, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = models.Subscription{
			UserID:        userID,
			PlanID:        planID,
			StartDate:     now,
			EndDate:       now.AddDate(0, 0, durationDays),
			Status:        models.SubscriptionActive,
			PaymentStatus: models.SubscriptionPaymentPaid,
		}
		if err := tx.Create(&sub).Error; err != nil {
			return nil, err
		}
		return &sub, nil

	default:
		return nil, err
	}
}

// Current returns the user's active subscription.
func (s *SubscriptionService) Current(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND end_date > ?", userID, models.SubscriptionActive, s.now()).
		Order("end_date DESC").
		Take(&sub).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return &sub, nil
}

// ExpireLapsed flips active subscriptions whose end date has passed.
func (s *SubscriptionService) ExpireLapsed(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ? AND end_date <= ?", models.SubscriptionActive, s.now()).
		Update("status", models.SubscriptionExpired)
	if res.Error != nil {
		return 0, storeErr(res.Error)
	}
	return res.RowsAffected, nil
}
