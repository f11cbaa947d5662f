package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		Service: "publish",
		Lamport: 42,
		Data: map[string]interface{}{
			"user":    "alice",
			"channel": "chat",
			"message": "hi",
		},
	}
	b, err := Encode(&req)
	require.NoError(t, err)

	got, err := DecodeRequest(b)
	require.NoError(t, err)
	assert.Equal(t, "publish", got.Service)
	assert.Equal(t, uint64(42), got.Lamport)
	assert.Equal(t, "alice", got.Data["user"])
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{Status: StatusSucesso, Clock: 7, Lamport: 7, Timestamp: "2026-07-31T00:00:00Z"}
	b, err := Encode(&resp)
	require.NoError(t, err)

	got, err := DecodeResponse(b)
	require.NoError(t, err)
	assert.Equal(t, StatusSucesso, got.Status)
	assert.Equal(t, uint64(7), got.Clock)
}

func TestDecodeRequestNilDataBecomesEmptyMap(t *testing.T) {
	req := Request{Service: "users", Lamport: 1}
	b, err := Encode(&req)
	require.NoError(t, err)

	got, err := DecodeRequest(b)
	require.NoError(t, err)
	assert.NotNil(t, got.Data)
	assert.Empty(t, got.Data)
}

func TestDecodeMalformedFrameErrors(t *testing.T) {
	_, err := DecodeRequest([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
