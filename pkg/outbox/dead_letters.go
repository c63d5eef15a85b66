package outbox

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
)

const maxDeadLetterError = 1024

// DeadLetters copies events the relay gave up on into outbox_dlq so they can be
// inspected and re-emitted by hand.
type DeadLetters struct {
	now func() time.Time
}

func NewDeadLetters() *DeadLetters {
	return &DeadLetters{now: time.Now}
}

// Bury records event with the reason delivery stopped. It runs in the relay's
// claim transaction so the copy and the parked source row commit together.
func (d *DeadLetters) Bury(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQReason, cause error) error {
	if tx == nil {
		return errTxRequired
	}
	if !reason.IsValid() {
		return fmt.Errorf("dead letter reason %q", reason)
	}
	row := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		AttemptCount:  event.AttemptCount,
		FailedAt:      d.now().UTC(),
	}
	if cause != nil {
		msg := cause.Error()
		if len(msg) > maxDeadLetterError {
			msg = msg[:maxDeadLetterError]
		}
		row.ErrorMessage = &msg
	}
	return tx.Create(&row).Error
}
