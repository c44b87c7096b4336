package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusProcessed = "processed"
)

type Order struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber       string     `gorm:"size:100;not null;uniqueIndex" json:"order_number"`
	SoftwareID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"software_id"`
	SoftwareVersionID *uuid.UUID `gorm:"type:uuid" json:"software_version_id,omitempty"`
	ItemName          string     `gorm:"size:255;not null" json:"item_name"`
	OS                string     `gorm:"size:50" json:"os"`
	Version           string     `gorm:"size:50" json:"version"`
	LicenseCount      int        `gorm:"not null" json:"license_count"`
	Status            string     `gorm:"size:20;not null;default:'pending'" json:"status"`
	OwnerID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrderLicense links an order to the keys allocated for it. A license is
// linked to at most one order at a time.
type OrderLicense struct {
	OrderID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"order_id"`
	LicenseID uuid.UUID `gorm:"type:uuid;primaryKey;uniqueIndex" json:"license_id"`
	CreatedAt time.Time `json:"created_at"`
	Order     Order     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"-"`
	License   License   `gorm:"foreignKey:LicenseID;constraint:OnDelete:CASCADE" json:"-"`
}
