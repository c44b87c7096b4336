package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllocationQuery selects the pool an allocation draws from. VersionID is
// only consulted for version-scoped software; OwnerScope is nil for
// privileged callers.
type AllocationQuery struct {
	SoftwareID uuid.UUID
	VersionID  *uuid.UUID
	OwnerScope *uuid.UUID
	Quantity   int
}

type Allocation struct {
	LicenseIDs []uuid.UUID
	Keys       []string
	UsedAt     time.Time
}

// StockError is returned when the pool holds fewer unused keys than requested.
// It matches ErrInsufficientStock.
type StockError struct {
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: requested %d, available %d", ErrInsufficientStock, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

type LicensePool struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewLicensePool(db *gorm.DB, m *metrics.Metrics) *LicensePool {
	return &LicensePool{
		db:      db,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var lockSkipLocked = clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}

// Allocate marks exactly q.Quantity unused keys as consumed inside tx, or
// fails without mutating anything. Rows are read with FOR UPDATE SKIP LOCKED
// so two concurrent allocations never pick the same key; the update is
// additionally guarded on is_active = false.
func (p *LicensePool) Allocate(tx *gorm.DB, q AllocationQuery) (*Allocation, error) {
	if q.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}

	var software models.Software
	if err := tx.Scopes(identity.ForOwner(q.OwnerScope)).Take(&software, "id = ?", q.SoftwareID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: software", ErrNotFound)
		}
		return nil, err
	}
	if !software.RequiresLicense {
		return nil, fmt.Errorf("%w: %s does not use license keys", ErrInvalidInput, software.Name)
	}

	pool := tx.Model(&models.License{}).
		Where("software_id = ? AND is_active = ?", software.ID, false).
		Scopes(identity.ForOwner(q.OwnerScope))

	if software.SearchByVersion {
		if q.VersionID == nil {
			return nil, fmt.Errorf("%w: %s requires an OS and version", ErrInvalidInput, software.Name)
		}
		var count int64
		if err := tx.Model(&models.SoftwareVersion{}).
			Where("id = ? AND software_id = ?", *q.VersionID, software.ID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: version does not belong to %s", ErrNotFound, software.Name)
		}
		pool = pool.Where("software_version_id = ?", *q.VersionID)
	}

	var rows []models.License
	if err := pool.Clauses(lockSkipLocked).
		Order("created_at ASC").
		Limit(q.Quantity).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) < q.Quantity {
		p.metrics.AllocationFailures.WithLabelValues("insufficient_stock").Inc()
		return nil, &StockError{Requested: q.Quantity, Available: len(rows)}
	}

	ids := make([]uuid.UUID, len(rows))
	keys := make([]string, len(rows))
	for i, l := range rows {
		ids[i] = l.ID
		keys[i] = l.LicenseKey
	}

	now := p.now()
	res := tx.Model(&models.License{}).
		Where("id IN ? AND is_active = ?", ids, false).
		Updates(map[string]interface{}{"is_active": true, "used_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != int64(len(ids)) {
		p.metrics.AllocationFailures.WithLabelValues("contention").Inc()
		return nil, fmt.Errorf("%w: %d of %d licenses were claimed concurrently", ErrTransient, int64(len(ids))-res.RowsAffected, len(ids))
	}

	p.metrics.LicensesAllocated.Add(float64(len(ids)))
	return &Allocation{LicenseIDs: ids, Keys: keys, UsedAt: now}, nil
}

// Release returns the given keys to the pool inside tx. Keys that are
// already unused, or unknown, are skipped; the count of keys actually
// released is returned.
func (p *LicensePool) Release(tx *gorm.DB, licenseIDs []uuid.UUID) (int64, error) {
	if len(licenseIDs) == 0 {
		return 0, nil
	}
	res := tx.Model(&models.License{}).
		Where("id IN ? AND is_active = ?", licenseIDs, true).
		Updates(map[string]interface{}{"is_active": false, "used_at": nil})
	if res.Error != nil {
		return 0, res.Error
	}
	p.metrics.LicensesReleased.Add(float64(res.RowsAffected))
	return res.RowsAffected, nil
}

// ReleaseLicenses is the standalone form of Release: it also drops the
// order links of the released keys so no key stays linked while unused.
func (p *LicensePool) ReleaseLicenses(ctx context.Context, licenseIDs []uuid.UUID) (int64, error) {
	if len(licenseIDs) == 0 {
		return 0, nil
	}
	var released int64
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("license_id IN ?", licenseIDs).Delete(&models.OrderLicense{}).Error; err != nil {
			return err
		}
		n, err := p.Release(tx, licenseIDs)
		if err != nil {
			return err
		}
		released = n
		return nil
	})
	if err != nil {
		return 0, storeErr(err)
	}
	return released, nil
}

type StockLevel struct {
	SoftwareID uuid.UUID  `json:"software_id"`
	VersionID  *uuid.UUID `json:"software_version_id,omitempty"`
	Available  int64      `json:"available"`
	Used       int64      `json:"used"`
}

// Stock counts unused and consumed keys for a software, optionally narrowed
// to one version.
func (p *LicensePool) Stock(ctx context.Context, softwareID uuid.UUID, versionID *uuid.UUID, ownerScope *uuid.UUID) (*StockLevel, error) {
	base := func() *gorm.DB {
		q := p.db.WithContext(ctx).Model(&models.License{}).
			Where("software_id = ?", softwareID).
			Scopes(identity.ForOwner(ownerScope))
		if versionID != nil {
			q = q.Where("software_version_id = ?", *versionID)
		}
		return q
	}

	level := &StockLevel{SoftwareID: softwareID, VersionID: versionID}
	if err := base().Where("is_active = ?", false).Count(&level.Available).Error; err != nil {
		return nil, storeErr(err)
	}
	if err := base().Where("is_active = ?", true).Count(&level.Used).Error; err != nil {
		return nil, storeErr(err)
	}
	return level, nil
}
