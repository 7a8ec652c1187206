package models

// Status is the order lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

// validNext is the directed transition table. No self-loops, no skipping.
// DELIVERED, CANCELLED and REFUNDED are terminal except for the refund edges.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {StatusRefunded: true},
	StatusCancelled:  {StatusRefunded: true},
	StatusRefunded:   {},
}

// CanTransition reports whether from -> to is a directed edge in the table.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IsValid reports whether s is a known status value.
func IsValid(s Status) bool {
	_, ok := validNext[s]
	return ok
}

// IsTerminal reports whether no customer-visible transition leaves s.
// Refund edges exist out of DELIVERED and CANCELLED but those states are
// still terminal for fulfillment purposes.
func IsTerminal(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// statusEvents maps an entered status to the event it emits. PROCESSING and
// REFUNDED are internal signals and emit nothing.
var statusEvents = map[Status]string{
	StatusConfirmed: EventOrderConfirmed,
	StatusShipped:   EventOrderShipped,
	StatusDelivered: EventOrderDelivered,
	StatusCancelled: EventOrderCancelled,
}

// EventForStatus returns the event type emitted on entering s, or "" when
// the transition is not customer-facing.
func EventForStatus(s Status) string {
	return statusEvents[s]
}
