package node

import (
	"time"

	"distributed-chat/internal/fabric"
)

// logTopRankedPeer queries the registry's rank service once at startup
// and logs the current highest-id member, purely as a diagnostic: the
// Bully election itself never consults rank, it only helps an operator
// see who the election is likely to converge on without waiting out a
// round-trip (see DESIGN.md, Supplemented features).
func (n *Node) logTopRankedPeer() {
	resp, err := n.registry.RankedMembers(n.logical.Tick())
	if err != nil {
		n.log.WithError(err).Debug("rank query failed")
		return
	}
	n.logical.Merge(resp.Lamport)
	raw, _ := resp.Data["members"].([]interface{})
	if len(raw) == 0 {
		return
	}
	top, ok := raw[0].(map[string]interface{})
	if !ok {
		return
	}
	m := memberFromData(top)
	n.log.WithField("node_id", m.NodeID).WithField("address", m.Address).Debug("current top-ranked peer")
}

func memberFromData(m map[string]interface{}) fabric.Member {
	addr, _ := m["address"].(string)
	hb, _ := m["last_heartbeat_wall"].(string)
	isLeader, _ := m["is_leader"].(bool)
	return fabric.Member{
		NodeID:           intFromAny(m["node_id"]),
		Address:          addr,
		Port:             intFromAny(m["port"]),
		LastHeartbeatUTC: hb,
		IsLeader:         isLeader,
	}
}

// heartbeatLoop refreshes this node's registry entry on a timer and
// folds the returned member list into the local peer view, wiring any
// newly discovered peer's replication publisher to our subscriber set
// (spec.md §5, "Registry heartbeat task", and §6 "connects... as that
// peer is discovered via registry").
func (n *Node) heartbeatLoop() {
	ticker := time.NewTicker(n.Cluster.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
		}
		n.doHeartbeat()
	}
}

func (n *Node) doHeartbeat() {
	resp, err := n.registry.Heartbeat(n.ID, n.election.IsLeader(), n.logical.Tick())
	if err != nil {
		n.log.WithError(err).Debug("heartbeat failed, will retry next tick")
		return
	}
	n.logical.Merge(resp.Lamport)
	n.ingestMemberList(resp.Data)
	// A heartbeat can be the first time this node learns of a higher-id
	// peer (e.g. it self-elected before registration had converged);
	// re-check immediately rather than waiting for the next
	// coordinatorMonitorLoop tick (spec.md §9 Open Question: a stale
	// self-belief must not stand once the real topology is known).
	n.election.MonitorOnce()
}

func (n *Node) ingestMemberList(data map[string]interface{}) {
	raw, _ := data["members"].([]interface{})
	list := make([]memberInfo, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		nodeID := intFromAny(m["node_id"])
		addr, _ := m["address"].(string)
		port := intFromAny(m["port"])
		isLeader, _ := m["is_leader"].(bool)
		if isLeader {
			n.election.NoteHeartbeat(nodeID)
		}
		list = append(list, memberInfo{NodeID: nodeID, Address: addr, Port: port})
	}

	added := n.members.Sync(list)
	if n.replSub == nil {
		return
	}
	repAddrs := n.members.ReplicationAddrs(n.Cluster.ReplicationPort)
	for _, mi := range added {
		addr, ok := repAddrs[mi.NodeID]
		if !ok {
			continue
		}
		if err := n.replSub.ConnectPeer(mi.NodeID, addr); err != nil {
			n.log.WithError(err).WithField("peer", mi.NodeID).Warn("replication connect failed")
		}
	}
}

func intFromAny(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case uint64:
		return int(x)
	case float64:
		return int(x)
	default:
		return 0
	}
}

// coordinatorMonitorLoop periodically checks whether the known leader
// is overdue and starts an election if so (spec.md §5, "Coordinator
// monitor").
func (n *Node) coordinatorMonitorLoop() {
	ticker := time.NewTicker(n.Cluster.CoordinatorMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
		}
		n.election.MonitorOnce()
	}
}

// pruneJournalLoop periodically advances the ReplicationJournal's
// low-water mark, bounding processedIDs' growth (spec.md §9 Design
// Notes) instead of letting it accumulate for the process lifetime.
func (n *Node) pruneJournalLoop() {
	ticker := time.NewTicker(n.Cluster.JournalPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
		}
		current := n.logical.Peek()
		if current <= n.Cluster.JournalRetention {
			continue
		}
		n.store.AdvanceLowWaterMark(current - n.Cluster.JournalRetention)
	}
}
