package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/pkg/enums"
)

// PaymentNotifyDLQ keeps gateway notifications that were acknowledged but not applied.
type PaymentNotifyDLQ struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderCode    string                `gorm:"column:order_code;not null;index"`
	RequestID    string                `gorm:"column:request_id;not null;default:''"`
	ResultCode   int                   `gorm:"column:result_code;not null"`
	Payload      json.RawMessage       `gorm:"column:payload;type:jsonb;not null"`
	Reason       enums.NotifyDLQReason `gorm:"column:reason;type:varchar(32);not null"`
	ErrorMessage string                `gorm:"column:error_message;not null;default:''"`
	Status       enums.NotifyDLQStatus `gorm:"column:status;type:varchar(16);not null;default:'pending';index"`
	AttemptCount int                   `gorm:"column:attempt_count;not null;default:0"`
	ResolvedAt   *time.Time            `gorm:"column:resolved_at"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentNotifyDLQ) TableName() string { return "payment_notify_dlq" }

func (d *PaymentNotifyDLQ) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// All lists every persisted model, in dependency order, for test schemas.
func All() []any {
	return []any{
		&Album{},
		&Order{},
		&OrderLineItem{},
		&OutboxEvent{},
		&OutboxDLQ{},
		&PaymentNotifyDLQ{},
	}
}
