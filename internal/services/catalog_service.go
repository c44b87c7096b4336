package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const importBatchSize = 200

type CreateSoftwareRequest struct {
	Name            string
	RequiresLicense bool
	SearchByVersion bool
}

type AddVersionRequest struct {
	OS           string
	Version      string
	DownloadLink string
}

type CreatePlanRequest struct {
	Name         string
	DurationDays int
	Price        int64
}

type ImportResult struct {
	Imported   int64    `json:"imported"`
	Duplicates []string `json:"duplicates"`
}

// CatalogService covers the writes needed to stock the license pool:
// products, their builds, key imports and subscription plans.
type CatalogService struct {
	db *gorm.DB
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

func (s *CatalogService) CreateSoftware(ctx context.Context, caller identity.Caller, req CreateSoftwareRequest) (*models.Software, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if req.SearchByVersion && !req.RequiresLicense {
		return nil, fmt.Errorf("%w: version-scoped stock only applies to licensed software", ErrInvalidInput)
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Software{}).
		Where("owner_id = ? AND LOWER(name) = LOWER(?)", caller.UserID, name).
		Count(&count).Error; err != nil {
		return nil, storeErr(err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: software %q already exists", ErrConflict, name)
	}

	software := models.Software{
		OwnerID:         caller.UserID,
		Name:            name,
		RequiresLicense: req.RequiresLicense,
		SearchByVersion: req.SearchByVersion,
	}
	if err := db.Create(&software).Error; err != nil {
		return nil, storeErr(err)
	}
	return &software, nil
}

func (s *CatalogService) AddVersion(ctx context.Context, caller identity.Caller, softwareID uuid.UUID, req AddVersionRequest) (*models.SoftwareVersion, error) {
	req.OS = strings.TrimSpace(req.OS)
	req.Version = strings.TrimSpace(req.Version)
	if req.OS == "" || req.Version == "" {
		return nil, fmt.Errorf("%w: os and version are required", ErrInvalidInput)
	}

	db := s.db.WithContext(ctx)
	software, err := s.ownedSoftware(db, caller, softwareID)
	if err != nil {
		return nil, storeErr(err)
	}

	version := models.SoftwareVersion{
		SoftwareID:   software.ID,
		OS:           req.OS,
		Version:      req.Version,
		DownloadLink: strings.TrimSpace(req.DownloadLink),
	}
	if err := db.Create(&version).Error; err != nil {
		return nil, storeErr(err)
	}
	return &version, nil
}

// ImportLicenses adds unused keys to a software's pool. Blank and repeated
// keys are skipped; keys that already exist anywhere are reported back as
// duplicates since license keys are globally unique.
func (s *CatalogService) ImportLicenses(ctx context.Context, caller identity.Caller, softwareID uuid.UUID, versionID *uuid.UUID, keys []string) (*ImportResult, error) {
	seen := make(map[string]struct{}, len(keys))
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		clean = append(clean, k)
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("%w: no license keys given", ErrInvalidInput)
	}

	result := &ImportResult{Duplicates: []string{}}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		software, err := s.ownedSoftware(tx, caller, softwareID)
		if err != nil {
			return err
		}
		if !software.RequiresLicense {
			return fmt.Errorf("%w: %s does not use license keys", ErrInvalidInput, software.Name)
		}
		if software.SearchByVersion && versionID == nil {
			return fmt.Errorf("%w: %s keeps stock per version, a version is required", ErrInvalidInput, software.Name)
		}
		if !software.SearchByVersion {
			versionID = nil
		}
		if versionID != nil {
			var count int64
			if err := tx.Model(&models.SoftwareVersion{}).
				Where("id = ? AND software_id = ?", *versionID, software.ID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("%w: version does not belong to %s", ErrNotFound, software.Name)
			}
		}

		var existing []string
		for start := 0; start < len(clean); start += importBatchSize {
			end := min(start+importBatchSize, len(clean))
			var batch []string
			if err := tx.Model(&models.License{}).
				Where("license_key IN ?", clean[start:end]).
				Pluck("license_key", &batch).Error; err != nil {
				return err
			}
			existing = append(existing, batch...)
		}
		taken := make(map[string]struct{}, len(existing))
		for _, k := range existing {
			taken[k] = struct{}{}
		}

		rows := make([]models.License, 0, len(clean))
		for _, k := range clean {
			if _, dup := taken[k]; dup {
				result.Duplicates = append(result.Duplicates, k)
				continue
			}
			rows = append(rows, models.License{
				SoftwareID:        software.ID,
				SoftwareVersionID: versionID,
				LicenseKey:        k,
				OwnerID:           software.OwnerID,
			})
		}
		if len(rows) == 0 {
			return nil
		}

		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "license_key"}}, DoNothing: true}).
			CreateInBatches(&rows, importBatchSize)
		if res.Error != nil {
			return res.Error
		}
		result.Imported = res.RowsAffected
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return result, nil
}

func (s *CatalogService) CreatePlan(ctx context.Context, req CreatePlanRequest) (*models.SubscriptionPlan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.DurationDays < 1 || req.Price <= 0 {
		return nil, fmt.Errorf("%w: name, a positive duration and a positive price are required", ErrInvalidInput)
	}
	plan := models.SubscriptionPlan{
		Name:         name,
		DurationDays: req.DurationDays,
		Price:        req.Price,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(&plan).Error; err != nil {
		return nil, storeErr(err)
	}
	return &plan, nil
}

func (s *CatalogService) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("price ASC").Find(&plans).Error
	return plans, storeErr(err)
}

func (s *CatalogService) ownedSoftware(db *gorm.DB, caller identity.Caller, softwareID uuid.UUID) (*models.Software, error) {
	var software models.Software
	if err := db.Take(&software, "id = ?", softwareID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: software", ErrNotFound)
		}
		return nil, err
	}
	if !caller.CanAccess(software.OwnerID) {
		return nil, fmt.Errorf("%w: software belongs to another seller", ErrForbidden)
	}
	return &software, nil
}
