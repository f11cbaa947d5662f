package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutUserIsIdempotentAndPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	created, err := s.PutUser("alice", time.Now())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.PutUser("alice", time.Now())
	require.NoError(t, err)
	assert.False(t, created)

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.True(t, reopened.HasUser("alice"))
}

func TestPutChannelRejectsDuplicate(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	created, err := s.PutChannel("chat", time.Now())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.PutChannel("chat", time.Now())
	require.NoError(t, err)
	assert.False(t, created)
}

func TestAppendPublicationIsIdempotentByID(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	p := Publication{ID: "p1", Channel: "chat", Author: "alice", Content: "hi", Wall: time.Now(), Lamport: 1}
	applied, err := s.AppendPublication(p)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.AppendPublication(p)
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Len(t, s.PublicationsByChannel("chat"), 1)

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.True(t, reopened.HasProcessed("p1"))
	assert.Len(t, reopened.AllPublications(), 1)
}

func TestAppendMessageFiltersByRecipient(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.AppendMessage(DirectMessage{ID: "m1", From: "alice", To: "bob", Content: "hi", Wall: time.Now()})
	require.NoError(t, err)
	_, err = s.AppendMessage(DirectMessage{ID: "m2", From: "alice", To: "carol", Content: "yo", Wall: time.Now()})
	require.NoError(t, err)

	msgs := s.MessagesFor("bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestOpenMissingDirStartsEmpty(t *testing.T) {
	s, err := Open(t.TempDir() + "/fresh")
	require.NoError(t, err)
	assert.Empty(t, s.Users())
	assert.Empty(t, s.Channels())
	assert.Empty(t, s.AllPublications())
	assert.Empty(t, s.AllMessages())
}
