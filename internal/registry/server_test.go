package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-chat/internal/wire"
)

func newTestServer() *Server {
	return New(nil, 10*time.Second)
}

func TestRegisterThenList(t *testing.T) {
	s := newTestServer()

	resp := s.Handle(wire.Request{Service: "register", Data: map[string]interface{}{
		"node_id": int64(1), "address": "127.0.0.1", "port": int64(6001),
	}})
	require.Equal(t, wire.StatusOK, resp.Status)
	members := resp.Data["members"].([]map[string]interface{})
	require.Len(t, members, 1)
	assert.Equal(t, 1, members[0]["node_id"])

	resp = s.Handle(wire.Request{Service: "list"})
	members = resp.Data["members"].([]map[string]interface{})
	require.Len(t, members, 1)
}

func TestHeartbeatUnknownNodeErrors(t *testing.T) {
	s := newTestServer()
	resp := s.Handle(wire.Request{Service: "heartbeat", Data: map[string]interface{}{"node_id": int64(9)}})
	assert.Equal(t, wire.StatusError, resp.Status)
}

func TestHeartbeatLeaderClearsOthers(t *testing.T) {
	s := newTestServer()
	s.Handle(wire.Request{Service: "register", Data: map[string]interface{}{"node_id": int64(1), "address": "a", "port": int64(1)}})
	s.Handle(wire.Request{Service: "register", Data: map[string]interface{}{"node_id": int64(2), "address": "b", "port": int64(2)}})

	s.Handle(wire.Request{Service: "heartbeat", Data: map[string]interface{}{"node_id": int64(1), "is_leader": true}})
	resp := s.Handle(wire.Request{Service: "heartbeat", Data: map[string]interface{}{"node_id": int64(2), "is_leader": true}})

	members := resp.Data["members"].([]map[string]interface{})
	var leaders int
	for _, m := range members {
		if m["is_leader"].(bool) {
			leaders++
		}
	}
	assert.Equal(t, 1, leaders)
}

func TestSweepEvictsStaleMembers(t *testing.T) {
	s := New(nil, 10*time.Millisecond)
	s.Handle(wire.Request{Service: "register", Data: map[string]interface{}{"node_id": int64(1), "address": "a", "port": int64(1)}})
	time.Sleep(20 * time.Millisecond)
	s.sweep()
	resp := s.Handle(wire.Request{Service: "list"})
	members := resp.Data["members"].([]map[string]interface{})
	assert.Empty(t, members)
}

func TestRankOrdersDescending(t *testing.T) {
	s := newTestServer()
	s.Handle(wire.Request{Service: "register", Data: map[string]interface{}{"node_id": int64(1), "address": "a", "port": int64(1)}})
	s.Handle(wire.Request{Service: "register", Data: map[string]interface{}{"node_id": int64(3), "address": "c", "port": int64(3)}})
	s.Handle(wire.Request{Service: "register", Data: map[string]interface{}{"node_id": int64(2), "address": "b", "port": int64(2)}})

	resp := s.Handle(wire.Request{Service: "rank"})
	members := resp.Data["members"].([]map[string]interface{})
	require.Len(t, members, 3)
	assert.Equal(t, 3, members[0]["node_id"])
	assert.Equal(t, 2, members[1]["node_id"])
	assert.Equal(t, 1, members[2]["node_id"])
}

func TestUnknownServiceErrors(t *testing.T) {
	s := newTestServer()
	resp := s.Handle(wire.Request{Service: "bogus"})
	assert.Equal(t, wire.StatusError, resp.Status)
}
