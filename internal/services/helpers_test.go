package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/notify"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory database. A single connection makes
// concurrent transactions queue on the pool the way FOR UPDATE would queue
// them on Postgres.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (n *recordingNotifier) Notify(msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func seedUser(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()
	u := models.User{Email: email, Password: "x", Role: models.RoleUser}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func ownerCaller(u models.User) identity.Caller {
	return identity.Caller{UserID: u.ID, Email: u.Email}
}

func adminCaller() identity.Caller {
	return identity.Caller{UserID: uuid.New(), Email: "admin@example.com", Privileged: true}
}

func seedSoftware(t *testing.T, db *gorm.DB, owner uuid.UUID, name string, requiresLicense, byVersion bool) models.Software {
	t.Helper()
	s := models.Software{OwnerID: owner, Name: name, RequiresLicense: requiresLicense, SearchByVersion: byVersion}
	require.NoError(t, db.Create(&s).Error)
	return s
}

func seedVersion(t *testing.T, db *gorm.DB, softwareID uuid.UUID, os, version, link string) models.SoftwareVersion {
	t.Helper()
	v := models.SoftwareVersion{SoftwareID: softwareID, OS: os, Version: version, DownloadLink: link}
	require.NoError(t, db.Create(&v).Error)
	return v
}

func seedLicenses(t *testing.T, db *gorm.DB, sw models.Software, versionID *uuid.UUID, keys ...string) []models.License {
	t.Helper()
	rows := make([]models.License, len(keys))
	for i, k := range keys {
		rows[i] = models.License{
			SoftwareID:        sw.ID,
			SoftwareVersionID: versionID,
			LicenseKey:        k,
			OwnerID:           sw.OwnerID,
			CreatedAt:         time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
	}
	require.NoError(t, db.Create(&rows).Error)
	return rows
}

func seedPlan(t *testing.T, db *gorm.DB, name string, days int, price int64) models.SubscriptionPlan {
	t.Helper()
	p := models.SubscriptionPlan{Name: name, DurationDays: days, Price: price, IsActive: true}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func unusedKeys(t *testing.T, db *gorm.DB, softwareID uuid.UUID) []string {
	t.Helper()
	var keys []string
	require.NoError(t, db.Model(&models.License{}).
		Where("software_id = ? AND is_active = ?", softwareID, false).
		Order("license_key ASC").
		Pluck("license_key", &keys).Error)
	return keys
}

func inTx(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	t.Helper()
	return db.WithContext(context.Background()).Transaction(fn)
}

func newPaymentFixture(t *testing.T, maxPending int) (*gorm.DB, *PaymentService, *recordingNotifier, *metrics.Metrics) {
	t.Helper()
	db := newTestDB(t)
	n := &recordingNotifier{}
	m := metrics.New()
	svc := NewPaymentService(db, NewSubscriptionService(db), n, m, PaymentConfig{
		Timeout:    time.Hour,
		MaxPending: maxPending,
		RefPrefix:  "PAY",
	})
	return db, svc, n, m
}
