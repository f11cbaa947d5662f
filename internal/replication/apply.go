package replication

import (
	"time"

	"distributed-chat/internal/clock"
	"distributed-chat/internal/store"
)

// Applier merges inbound replication events into the local store,
// following spec.md §4.5's inbound path: merge Lamport, drop if already
// processed, insert/append, persist.
type Applier struct {
	Store *store.Store
	Clock *clock.Lamport
}

// Apply merges ev into local state. It is a no-op (not an error) if
// ev.ID was already applied, satisfying the "at most once" invariant.
func (a *Applier) Apply(ev Event) error {
	a.Clock.Merge(ev.Lamport)

	switch ev.Type {
	case EventLogin:
		username, _ := ev.Payload["username"].(string)
		if username == "" {
			return nil
		}
		_, err := a.Store.PutUser(username, parseWall(ev.Wall))
		return err

	case EventChannel:
		name, _ := ev.Payload["name"].(string)
		if name == "" {
			return nil
		}
		_, err := a.Store.PutChannel(name, parseWall(ev.Wall))
		return err

	case EventPublication:
		if a.Store.HasProcessed(ev.ID) {
			return nil
		}
		p := store.Publication{
			ID:      ev.ID,
			Channel: stringField(ev.Payload, "channel"),
			Author:  stringField(ev.Payload, "author"),
			Content: stringField(ev.Payload, "content"),
			Wall:    parseWall(ev.Wall),
			Lamport: ev.Lamport,
		}
		_, err := a.Store.AppendPublication(p)
		return err

	case EventMessage:
		if a.Store.HasProcessed(ev.ID) {
			return nil
		}
		m := store.DirectMessage{
			ID:      ev.ID,
			From:    stringField(ev.Payload, "from"),
			To:      stringField(ev.Payload, "to"),
			Content: stringField(ev.Payload, "content"),
			Wall:    parseWall(ev.Wall),
			Lamport: ev.Lamport,
		}
		_, err := a.Store.AppendMessage(m)
		return err
	}
	return nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func parseWall(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
