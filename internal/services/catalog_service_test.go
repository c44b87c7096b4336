package services

import (
	"context"
	"testing"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateSoftwareAndVersions(t *testing.T) {
	db := newTestDB(t)
	svc := NewCatalogService(db)
	owner := seedUser(t, db, "seller@example.com")
	other := seedUser(t, db, "other@example.com")
	ctx := context.Background()

	sw, err := svc.CreateSoftware(ctx, ownerCaller(owner), CreateSoftwareRequest{Name: " Suite ", RequiresLicense: true, SearchByVersion: true})
	require.NoError(t, err)
	require.Equal(t, "Suite", sw.Name)
	require.Equal(t, owner.ID, sw.OwnerID)

	_, err = svc.CreateSoftware(ctx, ownerCaller(owner), CreateSoftwareRequest{Name: "suite", RequiresLicense: true})
	require.ErrorIs(t, err, ErrConflict)

	// names are unique per seller only
	_, err = svc.CreateSoftware(ctx, ownerCaller(other), CreateSoftwareRequest{Name: "Suite", RequiresLicense: true})
	require.NoError(t, err)

	_, err = svc.CreateSoftware(ctx, ownerCaller(owner), CreateSoftwareRequest{Name: "Odd", SearchByVersion: true})
	require.ErrorIs(t, err, ErrInvalidInput)

	v, err := svc.AddVersion(ctx, ownerCaller(owner), sw.ID, AddVersionRequest{OS: "windows", Version: "2024", DownloadLink: "https://dl.example.com/s.zip"})
	require.NoError(t, err)
	require.Equal(t, sw.ID, v.SoftwareID)

	_, err = svc.AddVersion(ctx, ownerCaller(owner), sw.ID, AddVersionRequest{OS: "windows", Version: "2024"})
	require.ErrorIs(t, err, ErrConflict)

	_, err = svc.AddVersion(ctx, ownerCaller(other), sw.ID, AddVersionRequest{OS: "linux", Version: "1"})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestImportLicenses(t *testing.T) {
	db := newTestDB(t)
	svc := NewCatalogService(db)
	owner := seedUser(t, db, "seller@example.com")
	ctx := context.Background()
	caller := ownerCaller(owner)

	sw := seedSoftware(t, db, owner.ID, "App", true, false)
	seedLicenses(t, db, sw, nil, "EXISTING")

	res, err := svc.ImportLicenses(ctx, caller, sw.ID, nil, []string{"K1", " K2 ", "K1", "", "EXISTING"})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Imported)
	require.Equal(t, []string{"EXISTING"}, res.Duplicates)
	require.Equal(t, []string{"EXISTING", "K1", "K2"}, unusedKeys(t, db, sw.ID))

	_, err = svc.ImportLicenses(ctx, caller, sw.ID, nil, []string{" ", ""})
	require.ErrorIs(t, err, ErrInvalidInput)

	scoped := seedSoftware(t, db, owner.ID, "Suite", true, true)
	_, err = svc.ImportLicenses(ctx, caller, scoped.ID, nil, []string{"S1"})
	require.ErrorIs(t, err, ErrInvalidInput)

	win := seedVersion(t, db, scoped.ID, "windows", "2024", "")
	res, err = svc.ImportLicenses(ctx, caller, scoped.ID, &win.ID, []string{"S1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Imported)

	var lic models.License
	require.NoError(t, db.Take(&lic, "license_key = ?", "S1").Error)
	require.NotNil(t, lic.SoftwareVersionID)
	require.Equal(t, win.ID, *lic.SoftwareVersionID)
	require.False(t, lic.IsActive)

	free := seedSoftware(t, db, owner.ID, "Freeware", false, false)
	_, err = svc.ImportLicenses(ctx, caller, free.ID, nil, []string{"F1"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPlans(t *testing.T) {
	db := newTestDB(t)
	svc := NewCatalogService(db)
	ctx := context.Background()

	_, err := svc.CreatePlan(ctx, CreatePlanRequest{Name: "Yearly", DurationDays: 365, Price: 900000})
	require.NoError(t, err)
	_, err = svc.CreatePlan(ctx, CreatePlanRequest{Name: "Monthly", DurationDays: 30, Price: 100000})
	require.NoError(t, err)
	_, err = svc.CreatePlan(ctx, CreatePlanRequest{Name: "Broken", DurationDays: 0, Price: 1})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.CreatePlan(ctx, CreatePlanRequest{Name: "Monthly", DurationDays: 30, Price: 1})
	require.ErrorIs(t, err, ErrConflict)

	plans, err := svc.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.Equal(t, "Monthly", plans[0].Name)
}

func TestKind(t *testing.T) {
	require.Equal(t, "insufficient_stock", Kind(&StockError{Requested: 2, Available: 1}))
	require.Equal(t, "not_found", Kind(storeErr(gorm.ErrRecordNotFound)))
	require.Equal(t, "transient", Kind(ErrTransient))
	require.Equal(t, "internal", Kind(context.Canceled))
	require.Equal(t, "", Kind(nil))
}
