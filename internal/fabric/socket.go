// Package fabric wraps the ZeroMQ sockets spec.md §6 names, using
// github.com/pebbe/zmq4 — the Go ZeroMQ binding named in the
// dd0wney-graphdb manifest and exercised by the zeromq-gyre reference
// node in this retrieval pack. Every adapter here corresponds to one of
// the three socket roles the spec calls out: the request fabric (REQ/REP
// to the broker and the registry), the publish fabric (PUB/SUB through
// the XSUB/XPUB proxy), and peer replication (a dedicated PUB/SUB pair
// between nodes).
package fabric

import (
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// RequestServer is a REP socket a node binds to accept broker-forwarded
// client requests (spec.md §6: "Workers bind REP to the broker's
// backend"). One request is served at a time, matching the main request
// loop's "blocking receive, one at a time" discipline (§5).
type RequestServer struct {
	sock *zmq.Socket
}

// NewRequestServer binds a REP socket at addr.
func NewRequestServer(addr string) (*RequestServer, error) {
	sock, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return nil, fmt.Errorf("new REP socket: %w", err)
	}
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("bind REP %s: %w", addr, err)
	}
	return &RequestServer{sock: sock}, nil
}

// Recv blocks for the next request frame.
func (s *RequestServer) Recv() ([]byte, error) {
	b, err := s.sock.RecvBytes(0)
	if err != nil {
		return nil, fmt.Errorf("recv request: %w", err)
	}
	return b, nil
}

// Reply sends the response to the request currently pending on the REP
// socket's state machine.
func (s *RequestServer) Reply(b []byte) error {
	if _, err := s.sock.SendBytes(b, 0); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// Close releases the socket.
func (s *RequestServer) Close() error {
	return s.sock.Close()
}

// PeerClient issues a single-shot REQ call to a peer and tears the
// socket down immediately after, per the Design Notes' caution against
// sharing a REQ/REP socket across tasks or reusing one across calls
// (spec.md §9, §5). Used for election messages, Berkeley sampling, the
// registry client, and pull-sync.
type PeerClient struct{}

// Call connects a fresh REQ socket to addr, sends req, waits up to
// timeout for a reply, and tears the socket down unconditionally.
func (PeerClient) Call(addr string, req []byte, timeout time.Duration) ([]byte, error) {
	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return nil, fmt.Errorf("new REQ socket: %w", err)
	}
	defer sock.Close()

	if err := sock.SetLinger(0); err != nil {
		return nil, fmt.Errorf("set linger: %w", err)
	}
	if err := sock.SetSndtimeo(timeout); err != nil {
		return nil, fmt.Errorf("set sndtimeo: %w", err)
	}
	if err := sock.SetRcvtimeo(timeout); err != nil {
		return nil, fmt.Errorf("set rcvtimeo: %w", err)
	}
	if err := sock.Connect(addr); err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	if _, err := sock.SendBytes(req, 0); err != nil {
		return nil, fmt.Errorf("send to %s: %w", addr, err)
	}
	resp, err := sock.RecvBytes(0)
	if err != nil {
		return nil, fmt.Errorf("recv from %s: %w", addr, err)
	}
	return resp, nil
}

// Publisher is a PUB socket. Workers bind one for peer replication
// (spec.md §6, "replication_port") and connect a second instance to the
// proxy's XSUB endpoint for client-visible relay.
type Publisher struct {
	sock *zmq.Socket
}

// NewPublisher creates an unbound, unconnected PUB socket.
func NewPublisher() (*Publisher, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("new PUB socket: %w", err)
	}
	return &Publisher{sock: sock}, nil
}

// Bind binds the publisher, for the replication endpoint.
func (p *Publisher) Bind(addr string) error {
	if err := p.sock.Bind(addr); err != nil {
		return fmt.Errorf("bind PUB %s: %w", addr, err)
	}
	return nil
}

// Connect connects the publisher, for relaying into the proxy's XSUB.
func (p *Publisher) Connect(addr string) error {
	if err := p.sock.Connect(addr); err != nil {
		return fmt.Errorf("connect PUB %s: %w", addr, err)
	}
	return nil
}

// Publish sends a two-frame message: topic, then payload.
func (p *Publisher) Publish(topic string, payload []byte) error {
	if _, err := p.sock.SendMessage(topic, payload); err != nil {
		return fmt.Errorf("publish topic %s: %w", topic, err)
	}
	return nil
}

// Close releases the socket.
func (p *Publisher) Close() error {
	return p.sock.Close()
}

// Subscriber is a SUB socket. Each node connects one of these to every
// other known peer's replication Publisher as that peer is discovered.
type Subscriber struct {
	sock *zmq.Socket
}

// NewSubscriber creates a SUB socket subscribed to every topic (the
// replication stream has no topic filtering — spec.md §4.5 says "topic
// implicit, subscribers consume everything").
func NewSubscriber() (*Subscriber, error) {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("new SUB socket: %w", err)
	}
	if err := sock.SetSubscribe(""); err != nil {
		sock.Close()
		return nil, fmt.Errorf("subscribe all: %w", err)
	}
	return &Subscriber{sock: sock}, nil
}

// Connect attaches to a peer's replication Publisher endpoint.
func (s *Subscriber) Connect(addr string) error {
	if err := s.sock.Connect(addr); err != nil {
		return fmt.Errorf("connect SUB %s: %w", addr, err)
	}
	return nil
}

// Recv blocks for the next (topic, payload) pair.
func (s *Subscriber) Recv() (topic string, payload []byte, err error) {
	parts, err := s.sock.RecvMessageBytes(0)
	if err != nil {
		return "", nil, fmt.Errorf("recv sub: %w", err)
	}
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("recv sub: expected 2 frames, got %d", len(parts))
	}
	return string(parts[0]), parts[1], nil
}

// Close releases the socket.
func (s *Subscriber) Close() error {
	return s.sock.Close()
}
