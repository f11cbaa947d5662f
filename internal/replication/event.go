// Package replication implements the gossip and pull-sync convergence
// layer of spec.md §4.5: every mutation is published as a
// ReplicationEvent on a node's replication PUB socket, every other node
// applies it idempotently off its SUB socket, and a periodic pull task
// repairs whatever the lossy pub/sub layer dropped. Grounded on the
// teacher's coordinated-checkpoint broadcast in node/checkpoint.go for
// the "fan out, collect, tolerate partial failure" shape, adapted here
// from an ACK-counting barrier to a fire-and-forget publish plus a
// separate convergence pull (the spec calls for eventual, not
// synchronous, agreement).
package replication

import (
	"time"

	"github.com/google/uuid"
)

// EventType names the four mutation kinds that replicate (spec.md §3).
type EventType string

const (
	EventLogin       EventType = "login"
	EventChannel     EventType = "channel"
	EventPublication EventType = "publication"
	EventMessage     EventType = "message"
)

// Event is the wire shape of one replication record (spec.md §4.5).
type Event struct {
	ID      string                 `codec:"id"`
	Type    EventType              `codec:"type"`
	Payload map[string]interface{} `codec:"payload"`
	Lamport uint64                 `codec:"lamport"`
	Wall    string                 `codec:"wall_time"`
}

// NewEvent stamps a fresh event with a random id and the current wall
// clock, ready to publish.
func NewEvent(typ EventType, payload map[string]interface{}, lamport uint64) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    typ,
		Payload: payload,
		Lamport: lamport,
		Wall:    time.Now().UTC().Format(time.RFC3339),
	}
}
