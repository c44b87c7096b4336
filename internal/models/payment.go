package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaymentPending  = "pending"
	PaymentVerified = "verified"
	PaymentRejected = "rejected"
	PaymentExpired  = "expired"
)

const (
	VerificationManual       = "manual"
	VerificationQRIS         = "qris"
	VerificationTripay       = "tripay"
	VerificationBankTransfer = "bank_transfer"
	VerificationSystem       = "system"
)

// Payment is one money-collection attempt for a subscription plan.
// TotalAmount = BaseAmount + UniqueDigits.
type Payment struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Reference          string           `gorm:"size:40;not null;uniqueIndex" json:"reference"`
	UserID             uuid.UUID        `gorm:"type:uuid;not null;index:idx_payment_user_status,priority:1" json:"user_id"`
	PlanID             uuid.UUID        `gorm:"type:uuid;not null;index" json:"plan_id"`
	BaseAmount         int64            `gorm:"not null" json:"base_amount"`
	UniqueDigits       int              `gorm:"not null" json:"unique_digits"`
	TotalAmount        int64            `gorm:"not null" json:"total_amount"`
	Status             string           `gorm:"size:20;not null;default:'pending';index:idx_payment_user_status,priority:2;index:idx_payment_status_expiry,priority:1" json:"status"`
	ExpiredAt          time.Time        `gorm:"not null;index:idx_payment_status_expiry,priority:2" json:"expired_at"`
	VerifiedAt         *time.Time       `json:"verified_at,omitempty"`
	VerifiedBy         *uuid.UUID       `gorm:"type:uuid" json:"verified_by,omitempty"`
	VerificationMethod string           `gorm:"size:30" json:"verification_method,omitempty"`
	Note               string           `gorm:"size:500" json:"note,omitempty"`
	SubscriptionID     *uuid.UUID       `gorm:"type:uuid" json:"subscription_id,omitempty"`
	Metadata           datatypes.JSON   `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	User               User             `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Plan               SubscriptionPlan `gorm:"foreignKey:PlanID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsTerminal reports whether no further transition is allowed.
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentPending
}

// PastDeadline reports whether now is strictly after the deadline. Queries
// use the same boundary: expired_at < now.
func (p *Payment) PastDeadline(now time.Time) bool {
	return now.After(p.ExpiredAt)
}
