package models

// Keys used inside Order.Metadata. The metadata map is the only place
// free-form per-order state lives; everything else is a typed column.
const (
	// MetaStatusSchedule holds the persisted status -> RFC3339 timestamp
	// map computed once at order creation.
	MetaStatusSchedule = "status_schedule"

	// MetaEnvironment tags which provider environment created the order.
	MetaEnvironment = "environment"

	// MetaReadyNotifiedAt marks that the delivery provider was told the
	// order is ready for courier pickup. Written once, checked before
	// every ready-side effect.
	MetaReadyNotifiedAt = "ready_notified_at"

	// MetaNotifiedPrefix + status marks that the customer notification
	// for that status was already sent.
	MetaNotifiedPrefix = "notified_"

	// MetaDispatchError preserves the provider error when courier
	// dispatch fails after the order row is committed.
	MetaDispatchError = "dispatch_error"

	// MetaQuoteID records the delivery quote the order was created from.
	MetaQuoteID = "delivery_quote_id"
)
