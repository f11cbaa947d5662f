package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-chat/internal/clock"
	"distributed-chat/internal/store"
	"distributed-chat/internal/wire"
)

type fakePullClient struct {
	users    []interface{}
	channels []interface{}
}

func (f *fakePullClient) Call(addr string, req []byte, timeout time.Duration) ([]byte, error) {
	r, _ := wire.DecodeRequest(req)
	resp := wire.Response{Status: wire.StatusOK, Lamport: 1}
	switch r.Service {
	case "users":
		resp.Data = map[string]interface{}{"users": f.users}
	case "channels":
		resp.Data = map[string]interface{}{"channels": f.channels}
	case "sync_publications":
		resp.Data = map[string]interface{}{"publications": []interface{}{}}
	case "sync_messages":
		resp.Data = map[string]interface{}{"messages": []interface{}{}}
	}
	return wire.Encode(&resp)
}

type fixedPeers struct{ addrs []string }

func (f fixedPeers) PeerAddrs() []string { return f.addrs }

func TestRunOncePullsUsersAndChannels(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	client := &fakePullClient{users: []interface{}{"bob"}, channels: []interface{}{"chat"}}
	p := NewPuller(st, &clock.Lamport{}, client, fixedPeers{addrs: []string{"peer1"}}, nil, 1000, time.Second)

	p.RunOnce()

	assert.True(t, st.HasUser("bob"))
	assert.True(t, st.HasChannel("chat"))
}

func TestRunOncePreventsReentrantSync(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	client := &fakePullClient{}
	p := NewPuller(st, &clock.Lamport{}, client, fixedPeers{addrs: []string{"peer1"}}, nil, 1000, time.Second)

	p.mu.Lock()
	p.syncing = true
	p.mu.Unlock()

	p.RunOnce() // should return immediately, no panics
	p.mu.Lock()
	stillSyncing := p.syncing
	p.mu.Unlock()
	assert.True(t, stillSyncing)
}
