package logging

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"gorm.io/gorm"
)

// PruneSystemLogs deletes system_logs rows older than retentionDays.
func PruneSystemLogs(ctx context.Context, db *gorm.DB, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	res := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	return res.RowsAffected, res.Error
}
