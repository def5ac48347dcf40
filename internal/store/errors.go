package store

import "fmt"

// NotFoundError signals that a referenced swarm or worker does not exist.
// The HTTP layer maps it to 404.
type NotFoundError struct {
	Kind string // "swarm" or "worker"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError signals a duplicate (swarm_id, packet_id) registration.
// Registration is never an upsert; the HTTP layer maps this to 409.
type ConflictError struct {
	SwarmID  string
	PacketID int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("packet %d already registered in swarm %s", e.PacketID, e.SwarmID)
}

// RuleError signals a request that parsed and validated structurally but
// violates a stored invariant (counter regression, reports against a
// terminal worker). The HTTP layer maps it to 422 with the field named.
type RuleError struct {
	Field  string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
