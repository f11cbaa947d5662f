package node

import (
	"fmt"
	"sync"

	"distributed-chat/internal/election"
)

// memberInfo is what the node remembers about a peer, learned from
// registry register/list/heartbeat responses (spec.md §3, Node entity).
type memberInfo struct {
	NodeID  int
	Address string
	Port    int
}

// members tracks the live peer set as observed via the registry. It
// satisfies election.PeerSource and replication.PeerSource so the
// election manager and the pull-sync puller always see the current
// view without the node package depending on either's concrete type.
type members struct {
	mu     sync.RWMutex
	byID   map[int]memberInfo
	selfID int
}

func newMembers(selfID int) *members {
	return &members{byID: make(map[int]memberInfo), selfID: selfID}
}

// Sync replaces the tracked set from a registry member listing,
// returning the peers newly observed (for replication subscriber
// wiring) so callers can connect to only what's new.
func (m *members) Sync(list []memberInfo) (added []memberInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := make(map[int]memberInfo, len(list))
	for _, mi := range list {
		if mi.NodeID == m.selfID {
			continue
		}
		fresh[mi.NodeID] = mi
		if _, existed := m.byID[mi.NodeID]; !existed {
			added = append(added, mi)
		}
	}
	m.byID = fresh
	return added
}

// Peers implements election.PeerSource.
func (m *members) Peers() []election.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]election.Peer, 0, len(m.byID))
	for _, mi := range m.byID {
		out = append(out, election.Peer{ID: mi.NodeID, Addr: requestAddr(mi.Address, mi.Port)})
	}
	return out
}

// PeerAddrs implements replication.PeerSource for pull-sync fan-out.
func (m *members) PeerAddrs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byID))
	for _, mi := range m.byID {
		out = append(out, requestAddr(mi.Address, mi.Port))
	}
	return out
}

// ReplicationAddrs returns (nodeID, address) pairs for every known peer
// at the shared replication port, for the subscriber discovery loop.
func (m *members) ReplicationAddrs(replicationPort int) map[int]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]string, len(m.byID))
	for id, mi := range m.byID {
		out[id] = requestAddr(mi.Address, replicationPort)
	}
	return out
}

func requestAddr(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}
