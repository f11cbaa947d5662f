// Package wire implements the msgpack frame format spec.md §6 requires:
// every application message is a compact binary mapping carrying at
// least service/lamport/data, and responses additionally carry
// status/timestamp/clock. Encoding uses github.com/hashicorp/go-msgpack,
// the same library the hashicorp-serf gossip protocol (a member of this
// retrieval pack) uses for its message bodies.
package wire

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-msgpack/codec"
)

var msgpackHandle = newMsgpackHandle()

// newMsgpackHandle pins the generic map decode target to
// map[string]interface{}, so a field like "data" or "members" that
// decodes into interface{} comes back in a shape Go code can type-
// assert directly instead of map[interface{}]interface{}, and decodes
// string values held in interface{} as string rather than []byte.
func newMsgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}{})
	h.RawToString = true
	return h
}

// Status values a Request response may carry, matching the Python
// original's mixed Portuguese/English vocabulary verbatim (spec.md §6).
const (
	StatusOK      = "ok"
	StatusSucesso = "sucesso"
	StatusErro    = "erro"
	StatusError   = "error"
)

// Request is the envelope every inbound service call arrives in.
type Request struct {
	Service string                 `codec:"service"`
	Lamport uint64                 `codec:"lamport"`
	Data    map[string]interface{} `codec:"data"`
}

// Response is the envelope every reply leaves in. Timestamp is RFC3339
// (ISO-8601) wall time, per spec.md §6.
type Response struct {
	Status      string                 `codec:"status"`
	Timestamp   string                 `codec:"timestamp,omitempty"`
	Clock       uint64                 `codec:"clock,omitempty"`
	Lamport     uint64                 `codec:"lamport"`
	Data        map[string]interface{} `codec:"data,omitempty"`
	Description string                 `codec:"description,omitempty"`
}

// Encode serializes v (a *Request, *Response, or any msgpack-able value)
// to bytes.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest parses a wire frame into a Request.
func DecodeRequest(b []byte) (Request, error) {
	var req Request
	dec := codec.NewDecoder(bytes.NewReader(b), msgpackHandle)
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("msgpack decode request: %w", err)
	}
	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}
	return req, nil
}

// DecodeResponse parses a wire frame into a Response.
func DecodeResponse(b []byte) (Response, error) {
	var resp Response
	dec := codec.NewDecoder(bytes.NewReader(b), msgpackHandle)
	if err := dec.Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("msgpack decode response: %w", err)
	}
	return resp, nil
}

// Decode parses a wire frame into an arbitrary destination, for peer
// RPCs whose payload isn't a Request/Response (election, Berkeley,
// replication events).
func Decode(b []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(b), msgpackHandle)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}
