package node

import (
	"time"

	"distributed-chat/internal/clock"
	"distributed-chat/internal/election"
	"distributed-chat/internal/fabric"
	"distributed-chat/internal/wire"
)

// runBerkeleySync executes one round of Berkeley synchronization
// (spec.md §4.4). Only meaningful when this node currently believes
// itself leader; called after every N_sync requests and once right
// after winning an election.
func (n *Node) runBerkeleySync() {
	if !n.election.IsLeader() {
		return
	}

	leaderTime := n.physical.Now()
	peers := n.members.Peers()

	var client fabric.PeerClient
	samples := make([]clock.Sample, 0, len(peers))
	for _, p := range peers {
		t1 := time.Now()
		req := wire.Request{Service: "clock", Lamport: n.logical.Tick()}
		b, err := wire.Encode(&req)
		if err != nil {
			continue
		}
		raw, err := client.Call(p.Addr, b, n.Cluster.TElectionReply)
		if err != nil {
			n.log.WithError(err).WithField("peer", p.ID).Debug("berkeley sample failed, skipping")
			continue
		}
		rtt := time.Since(t1)
		resp, err := wire.DecodeResponse(raw)
		if err != nil {
			continue
		}
		n.logical.Merge(resp.Lamport)
		peerTimeStr, _ := resp.Data["time"].(string)
		peerTime, err := time.Parse(time.RFC3339Nano, peerTimeStr)
		if err != nil {
			continue
		}
		samples = append(samples, clock.Sample{NodeID: p.ID, Time: peerTime.Add(rtt / 2)})
	}

	deltas := clock.BerkeleyPlan(n.ID, leaderTime, samples)

	if delta, ok := deltas[n.ID]; ok {
		n.physical.Adjust(delta)
	}

	for _, p := range peers {
		delta, ok := deltas[p.ID]
		if !ok {
			continue
		}
		go func(p election.Peer, delta time.Duration) {
			req := wire.Request{
				Service: "adjust_clock",
				Lamport: n.logical.Tick(),
				Data:    map[string]interface{}{"delta_seconds": delta.Seconds()},
			}
			b, err := wire.Encode(&req)
			if err != nil {
				return
			}
			_, _ = client.Call(p.Addr, b, n.Cluster.TElectionReply)
		}(p, delta)
	}

	n.log.WithField("samples", len(samples)).Info("berkeley sync complete")
}
