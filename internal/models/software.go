package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Software is a sellable product. SearchByVersion means license stock is
// kept per OS+version build and allocation must name one.
type Software struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_software_owner_name,priority:1" json:"owner_id"`
	Name            string    `gorm:"size:255;not null;uniqueIndex:idx_software_owner_name,priority:2" json:"name"`
	RequiresLicense bool      `gorm:"not null" json:"requires_license"`
	SearchByVersion bool      `gorm:"not null" json:"search_by_version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Owner           User      `gorm:"foreignKey:OwnerID" json:"-"`
}

func (s *Software) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (Software) TableName() string {
	return "software"
}

// SoftwareVersion is one OS+version build of a Software.
type SoftwareVersion struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SoftwareID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_software_version,priority:1" json:"software_id"`
	OS           string    `gorm:"size:50;not null;uniqueIndex:idx_software_version,priority:2" json:"os"`
	Version      string    `gorm:"size:50;not null;uniqueIndex:idx_software_version,priority:3" json:"version"`
	DownloadLink string    `gorm:"size:1000" json:"download_link"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Software     Software  `gorm:"foreignKey:SoftwareID;constraint:OnDelete:CASCADE" json:"-"`
}

func (v *SoftwareVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
