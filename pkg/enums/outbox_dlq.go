package enums

import "slices"

// OutboxDLQReason records why the relay gave up on an outbox row.
type OutboxDLQReason string

const (
	// OutboxDLQReasonUnroutable marks rows the registry could not map to a
	// topic or whose envelope did not decode.
	OutboxDLQReasonUnroutable OutboxDLQReason = "unroutable"
	// OutboxDLQReasonRejected marks rows Pub/Sub refused permanently.
	OutboxDLQReasonRejected         OutboxDLQReason = "rejected"
	OutboxDLQReasonRetriesExhausted OutboxDLQReason = "retries_exhausted"
)

func (r OutboxDLQReason) IsValid() bool {
	return slices.Contains([]OutboxDLQReason{
		OutboxDLQReasonUnroutable,
		OutboxDLQReasonRejected,
		OutboxDLQReasonRetriesExhausted,
	}, r)
}
