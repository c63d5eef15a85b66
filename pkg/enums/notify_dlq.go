package enums

// NotifyDLQStatus tracks replay progress of a dead-lettered gateway notification.
type NotifyDLQStatus string

const (
	NotifyDLQStatusPending   NotifyDLQStatus = "pending"
	NotifyDLQStatusResolved  NotifyDLQStatus = "resolved"
	NotifyDLQStatusExhausted NotifyDLQStatus = "exhausted"
)

// NotifyDLQReason classifies why a notification could not be applied.
type NotifyDLQReason string

const (
	NotifyDLQReasonStateConflict NotifyDLQReason = "state_conflict"
	NotifyDLQReasonStorage       NotifyDLQReason = "storage_failure"
	NotifyDLQReasonUnknown       NotifyDLQReason = "unknown"
)

var validNotifyDLQReasons = []NotifyDLQReason{
	NotifyDLQReasonStateConflict,
	NotifyDLQReasonStorage,
	NotifyDLQReasonUnknown,
}

func (r NotifyDLQReason) IsValid() bool {
	for _, candidate := range validNotifyDLQReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// Replayable reports whether a later attempt could succeed without operator action.
func (r NotifyDLQReason) Replayable() bool {
	return r != NotifyDLQReasonStateConflict
}
