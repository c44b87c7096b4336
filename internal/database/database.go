package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrTransient marks lock timeouts, deadlocks, serialization failures and
	// lost connections. The whole operation rolled back and may be retried.
	ErrTransient = errors.New("transient store failure")
	// ErrDuplicate marks a unique-constraint violation.
	ErrDuplicate = errors.New("duplicate key")
)

// Connect opens the Postgres pool. The handle is returned rather than stored
// globally; every service receives it through its constructor.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("database connected")
	return db, nil
}

// Migrate runs AutoMigrate for every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.Software{},
		&models.SoftwareVersion{},
		&models.License{},
		&models.Order{},
		&models.OrderLicense{},
		&models.SubscriptionPlan{},
		&models.Subscription{},
		&models.Payment{},
		&models.SystemLog{},
	)
}

func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Classify folds driver errors into ErrTransient / ErrDuplicate so callers
// can branch with errors.Is. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrDuplicate) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "40001", "40P01", "55P03", "57014", "57P01":
			return fmt.Errorf("%w: %s", ErrTransient, pgErr.Message)
		}
		// class 08: connection exception
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return fmt.Errorf("%w: %s", ErrTransient, pgErr.Message)
		}
		return err
	}

	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
