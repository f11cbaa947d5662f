package fabric

import (
	"time"

	"distributed-chat/internal/nodeerr"
	"distributed-chat/internal/wire"
)

// RegistryClient talks to the Registry's REP socket (spec.md §4.1, §6).
// It carries no connection state of its own beyond the address — every
// call opens and tears down its own REQ socket via PeerClient, exactly
// like every other peer RPC in this fleet.
type RegistryClient struct {
	Addr    string
	Timeout time.Duration
	client  PeerClient
}

// NewRegistryClient returns a client bound to the registry's address.
func NewRegistryClient(addr string, timeout time.Duration) *RegistryClient {
	return &RegistryClient{Addr: addr, Timeout: timeout}
}

// Member mirrors the registry's per-node record (spec.md §3).
type Member struct {
	NodeID           int    `codec:"node_id" mapstructure:"node_id"`
	Address          string `codec:"address"`
	Port             int    `codec:"port"`
	LastHeartbeatUTC string `codec:"last_heartbeat_wall"`
	IsLeader         bool   `codec:"is_leader"`
}

func (c *RegistryClient) call(service string, data map[string]interface{}, lamport uint64) (wire.Response, error) {
	req := wire.Request{Service: service, Lamport: lamport, Data: data}
	b, err := wire.Encode(&req)
	if err != nil {
		return wire.Response{}, nodeerr.Wrap(nodeerr.KindProtocol, "encode "+service+" request", err)
	}
	raw, err := c.client.Call(c.Addr, b, c.Timeout)
	if err != nil {
		return wire.Response{}, nodeerr.Wrap(nodeerr.KindRegistryUnreachable, "registry "+service, err)
	}
	resp, err := wire.DecodeResponse(raw)
	if err != nil {
		return wire.Response{}, nodeerr.Wrap(nodeerr.KindProtocol, "decode "+service+" response", err)
	}
	return resp, nil
}

// Register announces this node to the registry and returns the current
// member list.
func (c *RegistryClient) Register(nodeID int, address string, port int, lamport uint64) (wire.Response, error) {
	return c.call("register", map[string]interface{}{
		"node_id": nodeID,
		"address": address,
		"port":    port,
	}, lamport)
}

// List asks the registry for the live member list.
func (c *RegistryClient) List(lamport uint64) (wire.Response, error) {
	return c.call("list", nil, lamport)
}

// Heartbeat refreshes this node's liveness timestamp and asserts or
// clears its leader flag.
func (c *RegistryClient) Heartbeat(nodeID int, isLeader bool, lamport uint64) (wire.Response, error) {
	return c.call("heartbeat", map[string]interface{}{
		"node_id":   nodeID,
		"is_leader": isLeader,
	}, lamport)
}

// RankedMembers returns the member list sorted by node_id descending.
// Supplements the distilled spec with the original Python reference
// server's "rank" service (original_source/reference/reference.py),
// letting a newly started node learn the current highest-id peer
// without waiting out a full election round-trip.
func (c *RegistryClient) RankedMembers(lamport uint64) (wire.Response, error) {
	return c.call("rank", nil, lamport)
}
