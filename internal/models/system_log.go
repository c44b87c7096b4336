package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SystemLog stores ERROR+ log records for later querying.
type SystemLog struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp   time.Time      `gorm:"not null;index" json:"timestamp"`
	Level       string         `gorm:"size:10;not null;index" json:"level"`
	Message     string         `gorm:"type:text" json:"message"`
	TraceID     string         `gorm:"size:36;index" json:"trace_id"`
	UserID      *string        `gorm:"size:36" json:"user_id"`
	OrderNumber string         `gorm:"size:100;index" json:"order_number"`
	PaymentRef  string         `gorm:"size:40;index" json:"payment_ref"`
	Action      string         `gorm:"size:100" json:"action"`
	Error       string         `gorm:"type:text" json:"error"`
	Extra       datatypes.JSON `gorm:"type:jsonb" json:"extra"`
	CreatedAt   time.Time      `json:"created_at"`
}
