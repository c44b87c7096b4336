package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// License is one allocatable key. IsActive means consumed: the key is linked
// to an order through OrderLicense and UsedAt is set.
type License struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	SoftwareID        uuid.UUID        `gorm:"type:uuid;not null;index:idx_license_pool,priority:1" json:"software_id"`
	SoftwareVersionID *uuid.UUID       `gorm:"type:uuid;index:idx_license_pool,priority:2" json:"software_version_id,omitempty"`
	LicenseKey        string           `gorm:"size:255;not null;uniqueIndex" json:"license_key"`
	IsActive          bool             `gorm:"not null;index:idx_license_pool,priority:3" json:"is_active"`
	UsedAt            *time.Time       `json:"used_at"`
	OwnerID           uuid.UUID        `gorm:"type:uuid;not null;index" json:"owner_id"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	Software          Software         `gorm:"foreignKey:SoftwareID;constraint:OnDelete:RESTRICT" json:"-"`
	SoftwareVersion   *SoftwareVersion `gorm:"foreignKey:SoftwareVersionID;constraint:OnDelete:SET NULL" json:"-"`
}

func (l *License) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
