package election

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-chat/internal/clock"
	"distributed-chat/internal/wire"
)

type fakePeers struct {
	peers []Peer
}

func (f fakePeers) Peers() []Peer { return f.peers }

// fakeClient answers election challenges as if addr encoded the
// responding node's disposition: nodes in refuse respond StatusOK
// (outrank caller), everyone else StatusError.
type fakeClient struct {
	mu      sync.Mutex
	refuse  map[string]bool
	calls   []string
}

func (f *fakeClient) Call(addr string, req []byte, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, addr)
	f.mu.Unlock()

	status := wire.StatusError
	if f.refuse[addr] {
		status = wire.StatusOK
	}
	return wire.Encode(&wire.Response{Status: status, Lamport: 1})
}

// fakeCoordinatorClient behaves like fakeClient but, for a refusing
// peer, asynchronously delivers a COORDINATOR announcement back to the
// manager under test — simulating the higher peer winning its own
// election and broadcasting, which is what actually stops a real node
// from restarting at step 1 forever.
type fakeCoordinatorClient struct {
	fakeClient
	announce func(coordinatorID int)
	coordID  int
}

func (f *fakeCoordinatorClient) Call(addr string, req []byte, timeout time.Duration) ([]byte, error) {
	b, err := f.fakeClient.Call(addr, req, timeout)
	if f.refuse[addr] {
		go func() {
			time.Sleep(10 * time.Millisecond)
			f.announce(f.coordID)
		}()
	}
	return b, err
}

func testTimeouts() Timeouts {
	return Timeouts{
		ElectionReply: 100 * time.Millisecond,
		AwaitCoord:    100 * time.Millisecond,
		Suppress:      10 * time.Millisecond,
		LeaderDead:    200 * time.Millisecond,
	}
}

func TestStartElectionBecomesLeaderWithNoHigherPeers(t *testing.T) {
	lc := &clock.Lamport{}
	peers := fakePeers{peers: []Peer{{ID: 1, Addr: "a"}, {ID: 2, Addr: "b"}}}
	fc := &fakeClient{refuse: map[string]bool{}}

	m := New(3, peers, fc, lc, nil, testTimeouts())
	became := make(chan struct{}, 1)
	m.OnBecomeLeader = func() { became <- struct{}{} }

	m.StartElection()

	select {
	case <-became:
	case <-time.After(time.Second):
		t.Fatal("did not become leader")
	}
	assert.Equal(t, Leader, m.State())
	assert.Equal(t, 3, m.LeaderID())
}

func TestStartElectionDefersToHigherPeer(t *testing.T) {
	lc := &clock.Lamport{}
	peers := fakePeers{peers: []Peer{{ID: 1, Addr: "a"}, {ID: 5, Addr: "b"}}}
	fc := &fakeCoordinatorClient{
		fakeClient: fakeClient{refuse: map[string]bool{"b": true}},
		coordID:    5,
	}

	m := New(1, peers, fc, lc, nil, testTimeouts())
	fc.announce = func(coordinatorID int) { m.HandleCoordinatorMessage(coordinatorID) }

	done := make(chan struct{})
	go func() {
		m.StartElection()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("election did not return")
	}
	assert.NotEqual(t, Leader, m.State())
}

func TestHandleElectionMessageTriggersCounterElection(t *testing.T) {
	lc := &clock.Lamport{}
	peers := fakePeers{peers: nil}
	fc := &fakeClient{refuse: map[string]bool{}}
	m := New(5, peers, fc, lc, nil, testTimeouts())

	resp := m.HandleElectionMessage(2)
	assert.Equal(t, wire.StatusOK, resp.Status)
	// With no higher peers, the counter-election makes node 5 leader.
	assert.Eventually(t, m.IsLeader, time.Second, 10*time.Millisecond)
}

func TestHandleElectionMessageFromHigherIDRefuses(t *testing.T) {
	lc := &clock.Lamport{}
	m := New(2, fakePeers{}, &fakeClient{refuse: map[string]bool{}}, lc, nil, testTimeouts())
	resp := m.HandleElectionMessage(9)
	assert.Equal(t, wire.StatusError, resp.Status)
}

func TestHandleCoordinatorMessageUpdatesLeader(t *testing.T) {
	lc := &clock.Lamport{}
	m := New(2, fakePeers{}, &fakeClient{refuse: map[string]bool{}}, lc, nil, testTimeouts())
	resp := m.HandleCoordinatorMessage(7)
	require.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, 7, m.LeaderID())
	assert.Equal(t, Follower, m.State())
}

func TestMonitorOnceStartsElectionWhenLeaderOverdue(t *testing.T) {
	lc := &clock.Lamport{}
	peers := fakePeers{peers: []Peer{{ID: 1, Addr: "a"}}}
	fc := &fakeClient{refuse: map[string]bool{}}
	m := New(1, peers, fc, lc, nil, testTimeouts())
	m.HandleCoordinatorMessage(9) // leader_id=9, never heartbeats
	// The announcement itself counts as 9's last heartbeat; age it past
	// T_leader_dead so the leader is overdue.
	m.mu.Lock()
	m.lastHeartbeat[9] = time.Now().Add(-time.Second)
	m.mu.Unlock()

	m.MonitorOnce()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, m.LeaderID())
}

func TestMonitorOnceStepsDownWhenHigherPeerAppearsWhileSelfLeading(t *testing.T) {
	lc := &clock.Lamport{}
	// Node 1 wrongly self-elected (e.g. before registry sync converged)
	// while node 9 was still unknown; once 9 shows up in the peer list,
	// MonitorOnce must stop trusting the stale self-belief and re-run
	// the protocol, which here converges on 9 announcing itself.
	peers := fakePeers{peers: []Peer{{ID: 9, Addr: "a"}}}
	fc := &fakeCoordinatorClient{
		fakeClient: fakeClient{refuse: map[string]bool{"a": true}},
		coordID:    9,
	}
	m := New(1, peers, fc, lc, nil, testTimeouts())
	fc.announce = func(coordinatorID int) { m.HandleCoordinatorMessage(coordinatorID) }
	m.HandleCoordinatorMessage(1) // self-elected

	m.MonitorOnce()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 9, m.LeaderID())
	assert.Equal(t, Follower, m.State())
}

func TestMonitorOnceLeavesSelfLeadingWithNoHigherPeer(t *testing.T) {
	lc := &clock.Lamport{}
	peers := fakePeers{peers: []Peer{{ID: 1, Addr: "a"}}}
	fc := &fakeClient{refuse: map[string]bool{}}
	m := New(9, peers, fc, lc, nil, testTimeouts())
	m.HandleCoordinatorMessage(9) // self-elected, no higher peer exists

	m.MonitorOnce()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 9, m.LeaderID())
	assert.Equal(t, Leader, m.State())
}

func TestElectionSuppressionWindowBlocksImmediateRestart(t *testing.T) {
	lc := &clock.Lamport{}
	peers := fakePeers{peers: nil}
	fc := &fakeClient{refuse: map[string]bool{}}
	t2 := testTimeouts()
	t2.Suppress = time.Second
	m := New(1, peers, fc, lc, nil, t2)

	m.StartElection()
	assert.Equal(t, Leader, m.State())

	m.mu.Lock()
	m.state = Follower
	m.mu.Unlock()

	m.StartElection()
	assert.Equal(t, Follower, m.State())
}
