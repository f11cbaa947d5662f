package replication

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"distributed-chat/internal/clock"
	"distributed-chat/internal/fabric"
	"distributed-chat/internal/store"
	"distributed-chat/internal/wire"
)

// Client is the subset of fabric.PeerClient the puller needs, narrowed
// to an interface so tests can substitute a fake transport.
type Client interface {
	Call(addr string, req []byte, timeout time.Duration) ([]byte, error)
}

// PeerSource supplies the current set of reachable peer addresses for
// pull-sync fan-out.
type PeerSource interface {
	PeerAddrs() []string
}

// Puller implements the pull-based convergence task of spec.md §4.5: a
// periodic pass that queries every peer for its users/channels, and —
// below size thresholds — its message/publication logs, merging by id.
// A reentrancy flag (is_syncing) prevents overlapping passes.
type Puller struct {
	store  *store.Store
	clock  *clock.Lamport
	client Client
	peers  PeerSource
	log    *logrus.Entry

	logThreshold int
	timeout      time.Duration

	mu      sync.Mutex
	syncing bool
}

// NewPuller constructs a puller. logThreshold bounds how large the
// local message/publication log may be before full log pulls are
// skipped (spec.md §9 Design Notes: pull-sync thresholds are a
// heuristic, not a hard contract).
func NewPuller(st *store.Store, clk *clock.Lamport, client Client, peers PeerSource, log *logrus.Entry, logThreshold int, timeout time.Duration) *Puller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if client == nil {
		client = fabric.PeerClient{}
	}
	return &Puller{
		store:        st,
		clock:        clk,
		client:       client,
		peers:        peers,
		log:          log.WithField("component", "pullsync"),
		logThreshold: logThreshold,
		timeout:      timeout,
	}
}

// Run blocks, running one pass every interval until stop is closed.
// startupWait delays the first pass (spec.md §4.5 default 15s).
func (p *Puller) Run(interval, startupWait time.Duration, stop <-chan struct{}) {
	select {
	case <-time.After(startupWait):
	case <-stop:
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p.RunOnce()
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single pull-sync pass against every known peer,
// skipping the pass entirely if one is already in flight.
func (p *Puller) RunOnce() {
	p.mu.Lock()
	if p.syncing {
		p.mu.Unlock()
		return
	}
	p.syncing = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.syncing = false
		p.mu.Unlock()
	}()

	var result *multierror.Error
	for _, addr := range p.peers.PeerAddrs() {
		if err := p.syncWithPeer(addr); err != nil {
			result = multierror.Append(result, fmt.Errorf("peer %s: %w", addr, err))
		}
	}
	if result != nil {
		p.log.WithError(result.ErrorOrNil()).Debug("pull-sync pass finished with partial failures")
	}
}

// syncWithPeer merges one peer's users and channels (always) and its
// message/publication logs (only below logThreshold). Failures on
// different legs are collected, not abandoned at the first error, so
// one slow endpoint doesn't block the others.
func (p *Puller) syncWithPeer(addr string) error {
	var result *multierror.Error
	if err := p.mergeUsers(addr); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.mergeChannels(addr); err != nil {
		result = multierror.Append(result, err)
	}
	if len(p.store.AllPublications()) < p.logThreshold {
		if err := p.mergePublications(addr); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if len(p.store.AllMessages()) < p.logThreshold {
		if err := p.mergeMessages(addr); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (p *Puller) call(addr, service string) (wire.Response, error) {
	req := wire.Request{Service: service, Lamport: p.clock.Tick()}
	b, err := wire.Encode(&req)
	if err != nil {
		return wire.Response{}, err
	}
	raw, err := p.client.Call(addr, b, p.timeout)
	if err != nil {
		return wire.Response{}, err
	}
	resp, err := wire.DecodeResponse(raw)
	if err != nil {
		return wire.Response{}, err
	}
	p.clock.Merge(resp.Lamport)
	return resp, nil
}

func (p *Puller) mergeUsers(addr string) error {
	resp, err := p.call(addr, "users")
	if err != nil {
		return fmt.Errorf("users: %w", err)
	}
	names, _ := resp.Data["users"].([]interface{})
	for _, n := range names {
		name, _ := n.(string)
		if name != "" {
			p.store.PutUser(name, time.Now().UTC())
		}
	}
	return nil
}

func (p *Puller) mergeChannels(addr string) error {
	resp, err := p.call(addr, "channels")
	if err != nil {
		return fmt.Errorf("channels: %w", err)
	}
	names, _ := resp.Data["channels"].([]interface{})
	for _, n := range names {
		name, _ := n.(string)
		if name != "" {
			p.store.PutChannel(name, time.Now().UTC())
		}
	}
	return nil
}

func (p *Puller) mergePublications(addr string) error {
	resp, err := p.call(addr, "sync_publications")
	if err != nil {
		return fmt.Errorf("sync_publications: %w", err)
	}
	items, _ := resp.Data["publications"].([]interface{})
	for _, raw := range items {
		rec, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		pub := store.Publication{
			ID:      stringField(rec, "id"),
			Channel: stringField(rec, "channel"),
			Author:  stringField(rec, "author"),
			Content: stringField(rec, "content"),
			Wall:    parseWall(stringField(rec, "wall_time")),
			Lamport: uintField(rec, "lamport"),
		}
		if pub.ID != "" {
			p.store.AppendPublication(pub)
		}
	}
	return nil
}

func (p *Puller) mergeMessages(addr string) error {
	resp, err := p.call(addr, "sync_messages")
	if err != nil {
		return fmt.Errorf("sync_messages: %w", err)
	}
	items, _ := resp.Data["messages"].([]interface{})
	for _, raw := range items {
		rec, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		msg := store.DirectMessage{
			ID:      stringField(rec, "id"),
			From:    stringField(rec, "from"),
			To:      stringField(rec, "to"),
			Content: stringField(rec, "content"),
			Wall:    parseWall(stringField(rec, "wall_time")),
			Lamport: uintField(rec, "lamport"),
		}
		if msg.ID != "" {
			p.store.AppendMessage(msg)
		}
	}
	return nil
}

func uintField(m map[string]interface{}, key string) uint64 {
	switch n := m[key].(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		return 0
	}
}
