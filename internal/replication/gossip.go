package replication

import (
	"sync"

	"github.com/sirupsen/logrus"

	"distributed-chat/internal/fabric"
	"distributed-chat/internal/wire"
)

// Publisher emits replication events on a node's bound PUB socket
// (spec.md §4.5, "outbound path"). Topic is unused — every subscriber
// consumes the whole stream — so every frame uses a constant topic.
type Publisher struct {
	pub *fabric.Publisher
	log *logrus.Entry
}

const replicationTopic = "repl"

// NewPublisher binds a replication publish socket at addr.
func NewPublisher(addr string, log *logrus.Entry) (*Publisher, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	pub, err := fabric.NewPublisher()
	if err != nil {
		return nil, err
	}
	if err := pub.Bind(addr); err != nil {
		return nil, err
	}
	return &Publisher{pub: pub, log: log.WithField("component", "replication")}, nil
}

// Emit encodes and publishes ev.
func (p *Publisher) Emit(ev Event) error {
	b, err := wire.Encode(&ev)
	if err != nil {
		return err
	}
	return p.pub.Publish(replicationTopic, b)
}

// Close releases the underlying socket.
func (p *Publisher) Close() error { return p.pub.Close() }

// Subscription tracks the SUB sockets connected to every known peer's
// replication endpoint, and the loop draining them into an Applier.
type Subscription struct {
	applier *Applier
	log     *logrus.Entry

	mu     sync.Mutex
	byPeer map[int]*fabric.Subscriber
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewSubscription constructs an empty subscription set.
func NewSubscription(applier *Applier, log *logrus.Entry) *Subscription {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Subscription{
		applier: applier,
		log:     log.WithField("component", "replication"),
		byPeer:  make(map[int]*fabric.Subscriber),
		stop:    make(chan struct{}),
	}
}

// ConnectPeer attaches a SUB socket to a newly discovered peer's
// replication publish endpoint and starts draining it. A no-op if
// already connected (spec.md §6, "connects... as that peer is
// discovered via registry").
func (s *Subscription) ConnectPeer(nodeID int, addr string) error {
	s.mu.Lock()
	if _, exists := s.byPeer[nodeID]; exists {
		s.mu.Unlock()
		return nil
	}
	sub, err := fabric.NewSubscriber()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := sub.Connect(addr); err != nil {
		sub.Close()
		s.mu.Unlock()
		return err
	}
	s.byPeer[nodeID] = sub
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"peer": nodeID, "addr": addr}).Info("connected replication subscriber")

	s.wg.Add(1)
	go s.drain(nodeID, sub)
	return nil
}

// DisconnectPeer tears down the subscriber for a peer that was evicted.
func (s *Subscription) DisconnectPeer(nodeID int) {
	s.mu.Lock()
	sub, ok := s.byPeer[nodeID]
	if ok {
		delete(s.byPeer, nodeID)
	}
	s.mu.Unlock()
	if ok {
		sub.Close()
	}
}

func (s *Subscription) drain(nodeID int, sub *fabric.Subscriber) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		_, payload, err := sub.Recv()
		if err != nil {
			// Socket closed by DisconnectPeer/Close, or a transport
			// error; exit the loop. After a transport error the
			// subscriber stays registered in byPeer.
			return
		}
		var ev Event
		if err := wire.Decode(payload, &ev); err != nil {
			s.log.WithField("peer", nodeID).Warn("malformed replication frame")
			continue
		}
		if err := s.applier.Apply(ev); err != nil {
			s.log.WithError(err).WithField("peer", nodeID).Warn("apply replication event failed")
		}
	}
}

// Close tears down every subscriber socket and waits for drain loops
// to exit.
func (s *Subscription) Close() {
	close(s.stop)
	s.mu.Lock()
	for id, sub := range s.byPeer {
		sub.Close()
		delete(s.byPeer, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
