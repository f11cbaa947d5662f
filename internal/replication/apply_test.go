package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-chat/internal/clock"
	"distributed-chat/internal/store"
)

func newTestApplier(t *testing.T) *Applier {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return &Applier{Store: st, Clock: &clock.Lamport{}}
}

func TestApplyLoginAddsUser(t *testing.T) {
	a := newTestApplier(t)
	ev := NewEvent(EventLogin, map[string]interface{}{"username": "alice"}, 3)
	require.NoError(t, a.Apply(ev))
	assert.True(t, a.Store.HasUser("alice"))
}

func TestApplyPublicationIsIdempotent(t *testing.T) {
	a := newTestApplier(t)
	ev := NewEvent(EventPublication, map[string]interface{}{
		"channel": "chat", "author": "alice", "content": "hi",
	}, 1)

	require.NoError(t, a.Apply(ev))
	require.NoError(t, a.Apply(ev))

	assert.Len(t, a.Store.PublicationsByChannel("chat"), 1)
}

func TestApplyMergesLamport(t *testing.T) {
	a := newTestApplier(t)
	ev := NewEvent(EventChannel, map[string]interface{}{"name": "chat"}, 50)
	require.NoError(t, a.Apply(ev))
	assert.GreaterOrEqual(t, a.Clock.Peek(), uint64(50))
}

func TestApplyMessageAppends(t *testing.T) {
	a := newTestApplier(t)
	ev := NewEvent(EventMessage, map[string]interface{}{
		"from": "alice", "to": "bob", "content": "hi",
	}, 1)
	require.NoError(t, a.Apply(ev))
	assert.Len(t, a.Store.MessagesFor("bob"), 1)
}
