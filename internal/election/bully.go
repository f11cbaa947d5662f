// Package election implements Bully leader election over the node's
// peer request sockets (spec.md §4.3). Grounded on the teacher's
// node/bully.go state machine (election_in_progress guard, OK/
// COORDINATOR broadcast, heartbeat-timeout trigger), generalized from
// net/rpc calls to per-call REQ sockets via internal/fabric, and from a
// fixed 2s sleep to the spec's named timeouts. The suppression window
// (T_election_suppress) is new: it resolves spec.md §9's cascading-
// election open question by debouncing the async re-trigger rule.
package election

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"distributed-chat/internal/clock"
	"distributed-chat/internal/fabric"
	"distributed-chat/internal/wire"
)

// State is one of the three Bully roles (spec.md §4.3).
type State int

const (
	Follower State = iota
	Candidate
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Peer is the minimal addressing information the manager needs to reach
// another member's election endpoint.
type Peer struct {
	ID   int
	Addr string
}

// PeerSource supplies the current live membership, typically backed by
// the registry client's cached member list.
type PeerSource interface {
	Peers() []Peer
}

// Client is the subset of fabric.PeerClient the manager needs,
// narrowed to an interface so tests can substitute a fake transport.
type Client interface {
	Call(addr string, req []byte, timeout time.Duration) ([]byte, error)
}

// Timeouts bundles the named constants of spec.md §4.3.
type Timeouts struct {
	ElectionReply time.Duration // T_election_reply
	AwaitCoord    time.Duration // T_await_coord
	Suppress      time.Duration // T_election_suppress
	LeaderDead    time.Duration // T_leader_dead
}

// Manager runs the Bully state machine for one node.
type Manager struct {
	selfID int
	peers  PeerSource
	client Client
	clock  *clock.Lamport
	log    *logrus.Entry
	t      Timeouts

	mu               sync.Mutex
	state            State
	leaderID         int
	electionInFlight bool
	suppressUntil    time.Time
	lastHeartbeat    map[int]time.Time

	OnBecomeLeader func()
}

// New constructs a Manager. clk is shared with the rest of the node so
// election messages participate in the same logical clock.
func New(selfID int, peers PeerSource, client Client, clk *clock.Lamport, log *logrus.Entry, t Timeouts) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if client == nil {
		client = fabric.PeerClient{}
	}
	return &Manager{
		selfID:        selfID,
		peers:         peers,
		client:        client,
		clock:         clk,
		log:           log.WithField("component", "election"),
		t:             t,
		state:         Follower,
		lastHeartbeat: make(map[int]time.Time),
	}
}

// State returns the current role.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LeaderID returns the last known leader, or 0 if none.
func (m *Manager) LeaderID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaderID
}

// IsLeader reports whether this node currently believes itself leader.
func (m *Manager) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Leader
}

// NoteHeartbeat records that leaderID is alive, for the coordinator
// monitor's T_leader_dead check.
func (m *Manager) NoteHeartbeat(nodeID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeartbeat[nodeID] = time.Now()
}

// MonitorOnce checks whether the current leader is overdue and starts
// an election if so (spec.md §4.3 trigger b). Call this on a ticker.
func (m *Manager) MonitorOnce() {
	m.mu.Lock()
	leader := m.leaderID
	last, known := m.lastHeartbeat[leader]
	m.mu.Unlock()

	if leader == m.selfID {
		// A self-belief of leadership formed before this node knew the
		// full membership (e.g. it ran its first election before
		// registry sync converged, per spec.md §4.3 trigger (a)) must
		// not stand forever just because nothing challenged it locally.
		// Bully guarantees the highest live id wins; if one has since
		// appeared, step down by re-running the protocol rather than
		// trusting a single stale self-election indefinitely.
		if higher := m.higherPeers(); len(higher) > 0 {
			m.log.WithField("higher_peers", len(higher)).Warn("higher-id peer observed while self-leading, re-electing")
			go m.StartElection()
		}
		return
	}
	if leader == 0 || !known || time.Since(last) > m.t.LeaderDead {
		m.log.WithField("leader_id", leader).Warn("leader presumed dead")
		go m.StartElection()
	}
}

// StartElection runs the Bully protocol to completion, restarting at
// step 1 (spec.md §4.3) for as long as higher peers acknowledge but no
// COORDINATOR ever arrives. It is safe to call concurrently; the
// election_in_progress flag serializes rounds and the suppression
// window prevents a cascading storm of restarts. Restarts loop rather
// than recurse so a prolonged partition never grows the call stack.
func (m *Manager) StartElection() {
	m.mu.Lock()
	if m.electionInFlight {
		m.mu.Unlock()
		return
	}
	if time.Now().Before(m.suppressUntil) {
		m.mu.Unlock()
		return
	}
	m.electionInFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.electionInFlight = false
		m.suppressUntil = time.Now().Add(m.t.Suppress)
		m.mu.Unlock()
	}()

	for m.runElectionRound() {
	}
}

// runElectionRound runs one pass of steps 1-2 and reports whether the
// caller should restart at step 1 (no COORDINATOR observed in time).
func (m *Manager) runElectionRound() (restart bool) {
	m.mu.Lock()
	m.state = Candidate
	m.mu.Unlock()

	m.log.WithField("node_id", m.selfID).Info("starting election")

	higher := m.higherPeers()
	if len(higher) == 0 {
		m.becomeLeader()
		return false
	}

	anyOK := m.sendElection(higher)
	if !anyOK {
		m.becomeLeader()
		return false
	}

	// Step 2: wait for a COORDINATOR observation within T_await_coord.
	deadline := time.Now().Add(m.t.AwaitCoord)
	for time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		m.mu.Lock()
		sawCoordinator := m.state == Follower && m.leaderID != 0
		m.mu.Unlock()
		if sawCoordinator {
			return false
		}
	}
	// No COORDINATOR arrived in time: restart at step 1.
	return true
}

func (m *Manager) higherPeers() []Peer {
	out := make([]Peer, 0)
	for _, p := range m.peers.Peers() {
		if p.ID > m.selfID {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) otherPeers() []Peer {
	out := make([]Peer, 0)
	for _, p := range m.peers.Peers() {
		if p.ID != m.selfID {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) sendElection(peers []Peer) bool {
	type result struct{ ok bool }
	results := make(chan result, len(peers))

	for _, p := range peers {
		go func(p Peer) {
			req := wire.Request{
				Service: "election",
				Lamport: m.clock.Tick(),
				Data:    map[string]interface{}{"from": m.selfID},
			}
			b, err := wire.Encode(&req)
			if err != nil {
				results <- result{ok: false}
				return
			}
			raw, err := m.client.Call(p.Addr, b, m.t.ElectionReply)
			if err != nil {
				results <- result{ok: false}
				return
			}
			resp, err := wire.DecodeResponse(raw)
			if err != nil {
				results <- result{ok: false}
				return
			}
			m.clock.Merge(resp.Lamport)
			results <- result{ok: resp.Status == wire.StatusOK}
		}(p)
	}

	anyOK := false
	for range peers {
		r := <-results
		if r.ok {
			anyOK = true
		}
	}
	return anyOK
}

func (m *Manager) becomeLeader() {
	m.mu.Lock()
	m.state = Leader
	m.leaderID = m.selfID
	m.mu.Unlock()

	m.log.WithField("node_id", m.selfID).Info("no higher peers, becoming leader")

	peers := m.otherPeers()
	for _, p := range peers {
		go func(p Peer) {
			req := wire.Request{
				Service: "election",
				Lamport: m.clock.Tick(),
				Data:    map[string]interface{}{"coordinator_id": m.selfID},
			}
			b, err := wire.Encode(&req)
			if err != nil {
				return
			}
			_, _ = m.client.Call(p.Addr, b, m.t.ElectionReply)
		}(p)
	}

	if m.OnBecomeLeader != nil {
		m.OnBecomeLeader()
	}
}

// HandleElectionMessage answers an incoming election request (protocol
// step 4). Replying OK means "I outrank you, back off"; it also
// triggers this node's own election asynchronously.
func (m *Manager) HandleElectionMessage(fromID int) wire.Response {
	m.clock.Tick()
	if m.selfID > fromID {
		go m.StartElection()
		return wire.Response{Status: wire.StatusOK, Lamport: m.clock.Peek()}
	}
	return wire.Response{Status: wire.StatusError, Lamport: m.clock.Peek()}
}

// HandleCoordinatorMessage applies an incoming COORDINATOR announcement
// (protocol step 5).
func (m *Manager) HandleCoordinatorMessage(coordinatorID int) wire.Response {
	m.clock.Tick()
	m.mu.Lock()
	m.leaderID = coordinatorID
	m.state = Follower
	if coordinatorID == m.selfID {
		m.state = Leader
	}
	m.lastHeartbeat[coordinatorID] = time.Now()
	m.mu.Unlock()

	m.log.WithField("leader_id", coordinatorID).Info("leader announced")
	return wire.Response{Status: wire.StatusOK, Lamport: m.clock.Peek()}
}

// Handle dispatches the peer-facing "election" verb, distinguishing an
// ELECTION challenge from a COORDINATOR announcement by which field the
// request carries (spec.md §4.6).
func (m *Manager) Handle(req wire.Request) wire.Response {
	m.clock.Merge(req.Lamport)
	if coordID, ok := req.Data["coordinator_id"]; ok {
		return m.HandleCoordinatorMessage(toInt(coordID))
	}
	if fromID, ok := req.Data["from"]; ok {
		return m.HandleElectionMessage(toInt(fromID))
	}
	return wire.Response{Status: wire.StatusError, Description: "malformed election message"}
}

func toInt(v interface{}) int {
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
