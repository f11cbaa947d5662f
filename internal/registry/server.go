// Package registry implements the process-wide membership service of
// spec.md §4.1: register/list/heartbeat over a request/reply channel,
// with a background sweeper evicting stale members. Grounded on the
// original Python reference server (original_source/reference/
// reference.py) for the verb set and eviction policy, and on the
// teacher's checkpoint.go for the mutex + atomic-state discipline.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"distributed-chat/internal/clock"
	"distributed-chat/internal/fabric"
	"distributed-chat/internal/wire"
)

// Member is one entry in the registry's membership table (spec.md §3).
type Member struct {
	NodeID        int
	Address       string
	Port          int
	LastHeartbeat time.Time
	IsLeader      bool
}

// Server is the Registry component. It owns only membership metadata —
// never user/channel/message state (spec.md §3, Ownership).
type Server struct {
	log     *logrus.Entry
	clock   clock.Lamport
	evict   time.Duration
	mu      sync.Mutex
	members map[int]*Member

	stop chan struct{}
	done chan struct{}
}

// New constructs a registry with the given eviction threshold.
func New(log *logrus.Entry, evictAfter time.Duration) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		log:     log.WithField("component", "registry"),
		evict:   evictAfter,
		members: make(map[int]*Member),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// StartSweeper launches the background eviction task. Call once.
func (s *Server) StartSweeper(interval time.Duration) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop halts the sweeper.
func (s *Server) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Server) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.members {
		if now.Sub(m.LastHeartbeat) > s.evict {
			s.log.WithField("node_id", id).Info("evicting stale member")
			delete(s.members, id)
		}
	}
}

// snapshot returns a sorted-by-id copy of the membership table. Callers
// must not hold s.mu.
func (s *Server) snapshot() []Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func membersToData(members []Member) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(members))
	for _, m := range members {
		out = append(out, map[string]interface{}{
			"node_id":             m.NodeID,
			"address":             m.Address,
			"port":                m.Port,
			"last_heartbeat_wall": m.LastHeartbeat.UTC().Format(time.RFC3339),
			"is_leader":           m.IsLeader,
		})
	}
	return out
}

// Handle dispatches one decoded request and returns the response to
// encode back to the wire. Every exchange merges the caller's Lamport
// timestamp and ticks its own before replying (spec.md §4.2).
func (s *Server) Handle(req wire.Request) wire.Response {
	s.clock.Merge(req.Lamport)

	var resp wire.Response
	switch req.Service {
	case "register":
		resp = s.handleRegister(req)
	case "list", "list_servers":
		resp = s.handleList(req)
	case "heartbeat":
		resp = s.handleHeartbeat(req)
	case "rank":
		resp = s.handleRank(req)
	default:
		resp = wire.Response{Status: wire.StatusError, Description: "unknown service"}
	}

	resp.Lamport = s.clock.Tick()
	resp.Clock = resp.Lamport
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return resp
}

// intFromData coerces a decoded msgpack number to int. The codec hands
// generic interface{} destinations back as int64 (or, for values that
// round-tripped through JSON-like layers, float64) rather than the
// platform int — never a bare type assertion target.
func intFromData(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (s *Server) handleRegister(req wire.Request) wire.Response {
	nodeID := intFromData(req.Data["node_id"])
	address, _ := req.Data["address"].(string)
	port := intFromData(req.Data["port"])

	s.mu.Lock()
	s.members[nodeID] = &Member{
		NodeID:        nodeID,
		Address:       address,
		Port:          port,
		LastHeartbeat: time.Now(),
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"node_id": nodeID, "address": address, "port": port}).Info("registered")

	return wire.Response{
		Status: wire.StatusOK,
		Data: map[string]interface{}{
			"members": membersToData(s.snapshot()),
		},
	}
}

func (s *Server) handleList(req wire.Request) wire.Response {
	return wire.Response{
		Status: wire.StatusOK,
		Data: map[string]interface{}{
			"members": membersToData(s.snapshot()),
		},
	}
}

func (s *Server) handleHeartbeat(req wire.Request) wire.Response {
	nodeID := intFromData(req.Data["node_id"])
	isLeader, _ := req.Data["is_leader"].(bool)

	s.mu.Lock()
	m, ok := s.members[nodeID]
	if !ok {
		s.mu.Unlock()
		return wire.Response{Status: wire.StatusError, Description: "not registered"}
	}
	m.LastHeartbeat = time.Now()
	m.IsLeader = isLeader
	if isLeader {
		// Clearing other members' flags is the registry's job (spec.md
		// §9 Open Question: the registry's view is authoritative, so
		// clearing here — not locally at each node — avoids split-brain
		// observation).
		for id, other := range s.members {
			if id != nodeID {
				other.IsLeader = false
			}
		}
	}
	s.mu.Unlock()

	return wire.Response{
		Status: wire.StatusOK,
		Data: map[string]interface{}{
			"members": membersToData(s.snapshot()),
		},
	}
}

func (s *Server) handleRank(req wire.Request) wire.Response {
	members := s.snapshot()
	sort.Slice(members, func(i, j int) bool { return members[i].NodeID > members[j].NodeID })
	return wire.Response{
		Status: wire.StatusOK,
		Data: map[string]interface{}{
			"members": membersToData(members),
		},
	}
}

// Serve runs the blocking REP loop until the socket is closed.
func (s *Server) Serve(rs *fabric.RequestServer) error {
	for {
		raw, err := rs.Recv()
		if err != nil {
			return err
		}
		req, err := wire.DecodeRequest(raw)
		if err != nil {
			_ = rs.Reply(mustEncode(wire.Response{Status: wire.StatusError, Description: "malformed"}))
			continue
		}
		resp := s.Handle(req)
		if err := rs.Reply(mustEncode(resp)); err != nil {
			return err
		}
	}
}

func mustEncode(resp wire.Response) []byte {
	b, err := wire.Encode(&resp)
	if err != nil {
		// Encoding a Response literal can't fail in practice (no cyclic
		// or unsupported types); a panic here indicates a real bug in
		// the Response struct.
		panic(err)
	}
	return b
}
