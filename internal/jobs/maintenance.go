package jobs

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/services"
	"gorm.io/gorm"
)

// Maintenance returns the periodic jobs the server runs: payment expiry,
// pending-quota trimming, subscription lapse and system log retention.
func Maintenance(db *gorm.DB, payments *services.PaymentService, subs *services.SubscriptionService, logRetentionDays int) []Job {
	return []Job{
		{Name: "payment_sweep", Run: payments.SweepExpired},
		{Name: "pending_quota", Run: payments.EnforceAllPendingQuotas},
		{Name: "subscription_lapse", Run: subs.ExpireLapsed},
		{Name: "log_retention", Run: func(ctx context.Context) (int64, error) {
			return logging.PruneSystemLogs(ctx, db, logRetentionDays, time.Now().UTC())
		}},
	}
}
