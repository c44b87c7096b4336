package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/notify"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Fulfillment outcomes.
const (
	FulfillProcessed         = "processed"
	FulfillAlreadyProcessed  = "already_processed"
	FulfillNoLicenseRequired = "no_license_required"
	FulfillVersionNotFound   = "version_not_found"
	FulfillInsufficientStock = "insufficient_stock"
)

type FulfillRequest struct {
	OrderNumber string
	ItemName    string
	OS          string
	Version     string
	Quantity    int
}

type FulfillResult struct {
	Status       string     `json:"status"`
	OrderNumber  string     `json:"order_number,omitempty"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	Keys         []string   `json:"license_keys"`
	DownloadLink string     `json:"download_link,omitempty"`
	Requested    int        `json:"requested,omitempty"`
	Available    *int       `json:"available,omitempty"`
}

type OrderDetail struct {
	Order models.Order `json:"order"`
	Keys  []string     `json:"license_keys"`
}

type OrderService struct {
	db       *gorm.DB
	pool     *LicensePool
	notifier notify.Notifier
	metrics  *metrics.Metrics
}

func NewOrderService(db *gorm.DB, pool *LicensePool, notifier notify.Notifier, m *metrics.Metrics) *OrderService {
	return &OrderService{db: db, pool: pool, notifier: notifier, metrics: m}
}

// Fulfill turns a purchase into an order holding freshly allocated keys, or
// leaves the database untouched. Licensing-free products and missing
// versions are answered without creating an order. A repeated call with an
// order number that was already processed returns the keys it holds.
func (s *OrderService) Fulfill(ctx context.Context, caller identity.Caller, req FulfillRequest) (*FulfillResult, error) {
	req.OrderNumber = strings.TrimSpace(req.OrderNumber)
	req.ItemName = strings.TrimSpace(req.ItemName)
	if req.OrderNumber == "" || req.ItemName == "" {
		return nil, fmt.Errorf("%w: order number and item name are required", ErrInvalidInput)
	}
	if req.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}

	db := s.db.WithContext(ctx)

	software, err := s.resolveSoftware(db, caller, req.ItemName)
	if err != nil {
		return nil, err
	}

	version, err := s.resolveVersion(db, software, req.OS, req.Version)
	if err != nil {
		return nil, err
	}
	downloadLink := ""
	if version != nil {
		downloadLink = version.DownloadLink
	}

	if !software.RequiresLicense {
		return s.finish(&FulfillResult{Status: FulfillNoLicenseRequired, DownloadLink: downloadLink, Keys: []string{}}), nil
	}
	if software.SearchByVersion && version == nil {
		return s.finish(&FulfillResult{Status: FulfillVersionNotFound, Keys: []string{}}), nil
	}

	var result *FulfillResult
	for attempt := 0; ; attempt++ {
		err = db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			result, txErr = s.fulfillTx(tx, caller, req, software, version, downloadLink)
			return txErr
		})
		// A concurrent first fulfill of the same order number won the insert;
		// the next pass finds its order.
		if attempt == 0 && errors.Is(database.Classify(err), database.ErrDuplicate) {
			continue
		}
		break
	}
	if err != nil {
		var stock *StockError
		if errors.As(err, &stock) && downloadLink != "" {
			available := stock.Available
			return s.finish(&FulfillResult{
				Status:       FulfillInsufficientStock,
				Keys:         []string{},
				DownloadLink: downloadLink,
				Requested:    req.Quantity,
				Available:    &available,
			}), nil
		}
		if !errors.Is(err, ErrInsufficientStock) {
			slog.Error("order fulfillment failed", "order_number", req.OrderNumber, "action", "fulfill", "error", err)
		}
		return nil, storeErr(err)
	}

	if result.Status == FulfillProcessed {
		s.notifier.Notify(notify.OrderFulfilled(result.OrderNumber, software.Name, len(result.Keys)))
		slog.Info("order fulfilled", "order_number", result.OrderNumber, "software_id", software.ID, "licenses", len(result.Keys))
	}
	return s.finish(result), nil
}

// fulfillTx answers a repeated order number from the stored order, or
// allocates keys and records a new order.
func (s *OrderService) fulfillTx(tx *gorm.DB, caller identity.Caller, req FulfillRequest, software *models.Software, version *models.SoftwareVersion, downloadLink string) (*FulfillResult, error) {
	var existing models.Order
	err := tx.Where("order_number = ?", req.OrderNumber).Take(&existing).Error
	if err == nil {
		if !caller.CanAccess(existing.OwnerID) {
			return nil, fmt.Errorf("%w: order %s belongs to another seller", ErrForbidden, req.OrderNumber)
		}
		if existing.SoftwareID != software.ID {
			return nil, fmt.Errorf("%w: order %s was placed for another item", ErrConflict, req.OrderNumber)
		}
		keys, err := orderKeys(tx, existing.ID)
		if err != nil {
			return nil, err
		}
		id := existing.ID
		return &FulfillResult{
			Status:       FulfillAlreadyProcessed,
			OrderNumber:  existing.OrderNumber,
			OrderID:      &id,
			Keys:         keys,
			DownloadLink: downloadLink,
			Requested:    existing.LicenseCount,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	query := AllocationQuery{
		SoftwareID: software.ID,
		OwnerScope: caller.OwnerScope(),
		Quantity:   req.Quantity,
	}
	if software.SearchByVersion {
		query.VersionID = &version.ID
	}
	alloc, err := s.pool.Allocate(tx, query)
	if err != nil {
		return nil, err
	}

	order := models.Order{
		OrderNumber:  req.OrderNumber,
		SoftwareID:   software.ID,
		ItemName:     software.Name,
		OS:           req.OS,
		Version:      req.Version,
		LicenseCount: req.Quantity,
		Status:       models.OrderStatusProcessed,
		OwnerID:      software.OwnerID,
	}
	if version != nil {
		order.SoftwareVersionID = &version.ID
	}
	if err := tx.Create(&order).Error; err != nil {
		return nil, err
	}

	links := make([]models.OrderLicense, len(alloc.LicenseIDs))
	for i, id := range alloc.LicenseIDs {
		links[i] = models.OrderLicense{OrderID: order.ID, LicenseID: id}
	}
	if err := tx.Create(&links).Error; err != nil {
		return nil, err
	}

	id := order.ID
	return &FulfillResult{
		Status:       FulfillProcessed,
		OrderNumber:  order.OrderNumber,
		OrderID:      &id,
		Keys:         alloc.Keys,
		DownloadLink: downloadLink,
		Requested:    req.Quantity,
	}, nil
}

func (s *OrderService) finish(r *FulfillResult) *FulfillResult {
	s.metrics.Fulfillments.WithLabelValues(r.Status).Inc()
	return r
}

// Cancel releases every key held by the order and deletes the order with
// its links, all in one transaction.
func (s *OrderService) Cancel(ctx context.Context, caller identity.Caller, orderNumber string) (int64, error) {
	var released int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_number = ?", orderNumber).
			Take(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order %s", ErrNotFound, orderNumber)
			}
			return err
		}
		if !caller.CanAccess(order.OwnerID) {
			return fmt.Errorf("%w: order %s belongs to another seller", ErrForbidden, orderNumber)
		}

		var licenseIDs []uuid.UUID
		if err := tx.Model(&models.OrderLicense{}).
			Where("order_id = ?", order.ID).
			Pluck("license_id", &licenseIDs).Error; err != nil {
			return err
		}

		n, err := s.pool.Release(tx, licenseIDs)
		if err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderLicense{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&order).Error; err != nil {
			return err
		}
		released = n
		return nil
	})
	if err != nil {
		return 0, storeErr(err)
	}

	s.metrics.OrdersCanceled.Inc()
	s.notifier.Notify(notify.OrderCanceled(orderNumber, int(released)))
	slog.Info("order canceled", "order_number", orderNumber, "released", released)
	return released, nil
}

// Get returns an order with its keys, for the owner or a privileged caller.
func (s *OrderService) Get(ctx context.Context, caller identity.Caller, orderNumber string) (*OrderDetail, error) {
	db := s.db.WithContext(ctx)

	var order models.Order
	if err := db.Where("order_number = ?", orderNumber).Take(&order).Error; err != nil {
		return nil, storeErr(err)
	}
	if !caller.CanAccess(order.OwnerID) {
		return nil, fmt.Errorf("%w: order %s belongs to another seller", ErrForbidden, orderNumber)
	}

	keys, err := orderKeys(db, order.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	return &OrderDetail{Order: order, Keys: keys}, nil
}

func (s *OrderService) resolveSoftware(db *gorm.DB, caller identity.Caller, name string) (*models.Software, error) {
	var software models.Software
	err := db.Scopes(identity.ForOwner(caller.OwnerScope())).
		Where("LOWER(name) = LOWER(?)", name).
		Order("created_at ASC").
		Take(&software).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: software %q", ErrNotFound, name)
		}
		return nil, storeErr(err)
	}
	return &software, nil
}

// resolveVersion picks the build an order refers to. Version-scoped software
// needs an exact OS+version match; otherwise the best match is the exact
// build, then the newest build for the OS, then the newest build overall.
// A nil version with a nil error means nothing matched.
func (s *OrderService) resolveVersion(db *gorm.DB, software *models.Software, os, version string) (*models.SoftwareVersion, error) {
	os = strings.TrimSpace(os)
	version = strings.TrimSpace(version)

	find := func(q *gorm.DB) (*models.SoftwareVersion, error) {
		var v models.SoftwareVersion
		err := q.Where("software_id = ?", software.ID).Order("created_at DESC").Take(&v).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, storeErr(err)
		}
		return &v, nil
	}

	if os != "" && version != "" {
		v, err := find(db.Where("LOWER(os) = LOWER(?) AND LOWER(version) = LOWER(?)", os, version))
		if err != nil || v != nil || software.SearchByVersion {
			return v, err
		}
	}
	if software.SearchByVersion {
		return nil, nil
	}
	if os != "" {
		v, err := find(db.Where("LOWER(os) = LOWER(?)", os))
		if err != nil || v != nil {
			return v, err
		}
	}
	return find(db)
}

func orderKeys(db *gorm.DB, orderID uuid.UUID) ([]string, error) {
	keys := []string{}
	err := db.Model(&models.License{}).
		Joins("JOIN order_licenses ON order_licenses.license_id = licenses.id").
		Where("order_licenses.order_id = ?", orderID).
		Order("licenses.license_key ASC").
		Pluck("licenses.license_key", &keys).Error
	return keys, err
}
