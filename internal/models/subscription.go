package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionActive   = "active"
	SubscriptionExpired  = "expired"
	SubscriptionCanceled = "canceled"

	SubscriptionPaymentPending = "pending"
	SubscriptionPaymentPaid    = "paid"
	SubscriptionPaymentFailed  = "failed"
)

type Subscription struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID  `gorm:"type:uuid;not null;index:idx_subscription_user_status,priority:1" json:"user_id"`
	PlanID        *uuid.UUID `gorm:"type:uuid" json:"plan_id,omitempty"`
	StartDate     time.Time  `gorm:"not null" json:"start_date"`
	EndDate       time.Time  `gorm:"not null;index" json:"end_date"`
	Status        string     `gorm:"not null;default:'active';size:20;index:idx_subscription_user_status,priority:2" json:"status"`
	PaymentStatus string     `gorm:"not null;default:'pending';size:20" json:"payment_status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	User          User       `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SubscriptionPlan is what a payment buys: DurationDays of access for Price.
type SubscriptionPlan struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	DurationDays int       `gorm:"not null" json:"duration_days"`
	Price        int64     `gorm:"not null" json:"price"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (p *SubscriptionPlan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
