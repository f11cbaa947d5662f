package node

import (
	"time"

	"distributed-chat/internal/nodeerr"
	"distributed-chat/internal/replication"
	"distributed-chat/internal/store"
	"distributed-chat/internal/wire"
)

func (n *Node) registerHandlers() {
	n.handlers = map[string]handlerFunc{
		"login":             n.handleLogin,
		"users":             n.handleUsers,
		"channel":           n.handleChannel,
		"channels":          n.handleChannels,
		"publish":           n.handlePublish,
		"message":           n.handleMessage,
		"get_messages":      n.handleGetMessages,
		"get_publications":  n.handleGetPublications,
		"sync_messages":     n.handleSyncMessages,
		"sync_publications": n.handleSyncPublications,
		"clock":             n.handleClock,
		"adjust_clock":      n.handleAdjustClock,
		"election":          n.election.Handle,
	}
}

func fieldStr(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func (n *Node) handleLogin(req wire.Request) wire.Response {
	username := fieldStr(req.Data, "user")
	if username == "" {
		return n.errValidation("user required")
	}
	created, err := n.store.PutUser(username, time.Now().UTC())
	if err != nil {
		n.log.WithError(nodeerr.Wrap(nodeerr.KindPersistence, "login snapshot", err)).Warn("persist login failed")
	}
	if created {
		n.emit(replication.NewEvent(replication.EventLogin, map[string]interface{}{"username": username}, n.logical.Peek()))
	}
	return wire.Response{Status: wire.StatusSucesso}
}

func (n *Node) handleUsers(req wire.Request) wire.Response {
	n.puller.RunOnce()
	return wire.Response{Status: wire.StatusOK, Data: map[string]interface{}{"users": toAnySlice(n.store.Users())}}
}

func (n *Node) handleChannel(req wire.Request) wire.Response {
	name := fieldStr(req.Data, "channel")
	if name == "" {
		return n.errValidation("channel required")
	}
	created, err := n.store.PutChannel(name, time.Now().UTC())
	if err != nil {
		n.log.WithError(nodeerr.Wrap(nodeerr.KindPersistence, "channel snapshot", err)).Warn("persist channel failed")
	}
	if !created {
		return n.errValidation("channel exists")
	}
	n.emit(replication.NewEvent(replication.EventChannel, map[string]interface{}{"name": name}, n.logical.Peek()))
	return wire.Response{Status: wire.StatusSucesso}
}

func (n *Node) handleChannels(req wire.Request) wire.Response {
	n.puller.RunOnce()
	return wire.Response{Status: wire.StatusOK, Data: map[string]interface{}{"channels": toAnySlice(n.store.Channels())}}
}

func (n *Node) handlePublish(req wire.Request) wire.Response {
	user := fieldStr(req.Data, "user")
	channel := fieldStr(req.Data, "channel")
	message := fieldStr(req.Data, "message")
	if user == "" || channel == "" {
		return n.errValidation("user and channel required")
	}
	if !n.store.HasChannel(channel) {
		n.puller.RunOnce()
		if !n.store.HasChannel(channel) {
			return n.errValidation("channel does not exist")
		}
	}

	now := time.Now().UTC()
	ev := replication.NewEvent(replication.EventPublication, map[string]interface{}{
		"channel": channel, "author": user, "content": message,
	}, n.logical.Peek())

	pub := store.Publication{ID: ev.ID, Channel: channel, Author: user, Content: message, Wall: now, Lamport: ev.Lamport}
	if _, err := n.store.AppendPublication(pub); err != nil {
		n.log.WithError(nodeerr.Wrap(nodeerr.KindPersistence, "publication snapshot", err)).Warn("persist publication failed")
	}
	n.emit(ev)
	n.relayTo(channel, map[string]interface{}{"user": user, "message": message, "wall_time": now.Format(time.RFC3339), "lamport": ev.Lamport})

	return wire.Response{Status: wire.StatusOK}
}

func (n *Node) handleMessage(req wire.Request) wire.Response {
	src := fieldStr(req.Data, "src")
	dst := fieldStr(req.Data, "dst")
	message := fieldStr(req.Data, "message")
	if src == "" || dst == "" {
		return n.errValidation("src and dst required")
	}
	if !n.store.HasUser(dst) {
		n.puller.RunOnce()
		if !n.store.HasUser(dst) {
			return n.errValidation("user does not exist")
		}
	}

	now := time.Now().UTC()
	ev := replication.NewEvent(replication.EventMessage, map[string]interface{}{
		"from": src, "to": dst, "content": message,
	}, n.logical.Peek())

	msg := store.DirectMessage{ID: ev.ID, From: src, To: dst, Content: message, Wall: now, Lamport: ev.Lamport}
	if _, err := n.store.AppendMessage(msg); err != nil {
		n.log.WithError(nodeerr.Wrap(nodeerr.KindPersistence, "message snapshot", err)).Warn("persist message failed")
	}
	n.emit(ev)
	n.relayTo(dst, map[string]interface{}{"src": src, "message": message, "wall_time": now.Format(time.RFC3339), "lamport": ev.Lamport})

	return wire.Response{Status: wire.StatusOK}
}

func (n *Node) handleGetMessages(req wire.Request) wire.Response {
	username := fieldStr(req.Data, "username")
	msgs := n.store.MessagesFor(username)
	return wire.Response{Status: wire.StatusOK, Data: map[string]interface{}{"messages": messagesToData(msgs)}}
}

func (n *Node) handleGetPublications(req wire.Request) wire.Response {
	channel := fieldStr(req.Data, "channel")
	pubs := n.store.PublicationsByChannel(channel)
	return wire.Response{Status: wire.StatusOK, Data: map[string]interface{}{"publications": publicationsToData(pubs)}}
}

func (n *Node) handleSyncMessages(req wire.Request) wire.Response {
	return wire.Response{Status: wire.StatusOK, Data: map[string]interface{}{"messages": messagesToData(n.store.AllMessages())}}
}

func (n *Node) handleSyncPublications(req wire.Request) wire.Response {
	return wire.Response{Status: wire.StatusOK, Data: map[string]interface{}{"publications": publicationsToData(n.store.AllPublications())}}
}

// handleClock answers a Berkeley sampling probe (spec.md §4.4 step 2)
// with this node's own adjusted time.
func (n *Node) handleClock(req wire.Request) wire.Response {
	return wire.Response{Status: wire.StatusOK, Data: map[string]interface{}{
		"time": n.physical.Now().Format(time.RFC3339Nano),
	}}
}

// handleAdjustClock applies the leader's computed delta to this node's
// physical offset (spec.md §4.4 step 5).
func (n *Node) handleAdjustClock(req wire.Request) wire.Response {
	deltaSeconds := toFloat64(req.Data["delta_seconds"])
	n.physical.Adjust(time.Duration(deltaSeconds * float64(time.Second)))
	return wire.Response{Status: wire.StatusOK}
}

// toFloat64 coerces a decoded msgpack numeric field the same way
// intFromAny/toInt/uintField do elsewhere in the tree: a round-trip can
// hand back int, int64, uint64, or float64 depending on the encoder.
func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}

func (n *Node) emit(ev replication.Event) {
	if n.replPub == nil {
		return
	}
	if err := n.replPub.Emit(ev); err != nil {
		n.log.WithError(err).Warn("replication emit failed")
	}
}

func (n *Node) relayTo(topic string, payload map[string]interface{}) {
	if n.relay == nil {
		return
	}
	b, err := wire.Encode(payload)
	if err != nil {
		n.log.WithError(err).Warn("relay encode failed")
		return
	}
	if err := n.relay.Publish(topic, b); err != nil {
		n.log.WithError(err).Warn("relay publish failed")
	}
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func messagesToData(msgs []store.DirectMessage) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]interface{}{
			"id": m.ID, "from": m.From, "to": m.To, "content": m.Content,
			"wall_time": m.Wall.UTC().Format(time.RFC3339), "lamport": m.Lamport,
		})
	}
	return out
}

func publicationsToData(pubs []store.Publication) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(pubs))
	for _, p := range pubs {
		out = append(out, map[string]interface{}{
			"id": p.ID, "channel": p.Channel, "author": p.Author, "content": p.Content,
			"wall_time": p.Wall.UTC().Format(time.RFC3339), "lamport": p.Lamport,
		})
	}
	return out
}
