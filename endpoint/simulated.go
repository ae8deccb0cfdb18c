package endpoint

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DeliveryRecord captures one simulated send, for test verification —
// adapted from the teacher's testing.DeliveryRecord, re-keyed on
// Candidate instead of a friend id.
type DeliveryRecord struct {
	Destination Candidate
	PacketSize  int
	Timestamp   int64
	Success     bool
	Err         error
}

// SimulatedEndpoint is an in-memory Endpoint for tests: it delivers
// packets directly to peer SimulatedEndpoints connected to it via
// Connect, without touching a real socket, matching the teacher's
// testing.SimulatedPacketDelivery idiom but with genuine delivery
// instead of a log-only no-op (needed to drive real two-peer sync
// rounds in tests, spec.md §8's end-to-end scenarios).
type SimulatedEndpoint struct {
	mu          sync.RWMutex
	local       Candidate
	peers       map[string]*SimulatedEndpoint
	handler     Handler
	closed      bool
	deliveryLog []DeliveryRecord
}

// NewSimulatedEndpointAt creates a simulated endpoint reachable at
// local. It has no peers until Connect is called.
func NewSimulatedEndpointAt(local Candidate) *SimulatedEndpoint {
	return &SimulatedEndpoint{local: local, peers: make(map[string]*SimulatedEndpoint)}
}

// NewSimulatedEndpoint creates a simulated endpoint at a placeholder
// loopback candidate (port 0); callers that need a specific, routable
// candidate should use NewSimulatedEndpointAt instead.
func NewSimulatedEndpoint() *SimulatedEndpoint {
	return NewSimulatedEndpointAt(Candidate{IP: net.IPv4(127, 0, 0, 1), Port: 0})
}

// Connect links two simulated endpoints so each can reach the other's
// candidate via Send.
func (e *SimulatedEndpoint) Connect(peer *SimulatedEndpoint) {
	e.mu.Lock()
	e.peers[peer.local.String()] = peer
	e.mu.Unlock()

	peer.mu.Lock()
	peer.peers[e.local.String()] = e
	peer.mu.Unlock()
}

// Send delivers packet directly to the peer registered at destination,
// invoking that peer's handler in a new goroutine, or returns
// ErrUnknownCandidate if no such peer is connected.
func (e *SimulatedEndpoint) Send(packet []byte, destination Candidate) error {
	e.mu.RLock()
	closed := e.closed
	peer, ok := e.peers[destination.String()]
	e.mu.RUnlock()

	record := DeliveryRecord{Destination: destination, PacketSize: len(packet), Timestamp: time.Now().UnixNano()}

	if closed {
		record.Err = ErrClosed
		e.appendLog(record)
		return ErrClosed
	}
	if !ok {
		record.Err = ErrUnknownCandidate
		e.appendLog(record)
		logrus.WithFields(logrus.Fields{"function": "Send", "package": "endpoint", "destination": destination.String()}).
			Warn("simulated send to unconnected candidate")
		return ErrUnknownCandidate
	}

	record.Success = true
	e.appendLog(record)

	peer.mu.RLock()
	h := peer.handler
	e.mu.RLock()
	from := e.local
	e.mu.RUnlock()
	peer.mu.RUnlock()
	if h != nil {
		go h(packet, from)
	}
	return nil
}

func (e *SimulatedEndpoint) appendLog(r DeliveryRecord) {
	e.mu.Lock()
	e.deliveryLog = append(e.deliveryLog, r)
	e.mu.Unlock()
}

// RegisterHandler sets the packet-received callback.
func (e *SimulatedEndpoint) RegisterHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// LocalCandidate returns the endpoint's address within the simulation.
func (e *SimulatedEndpoint) LocalCandidate() Candidate { return e.local }

// IsSimulation always reports true.
func (e *SimulatedEndpoint) IsSimulation() bool { return true }

// Close marks the endpoint closed; further Send calls fail.
func (e *SimulatedEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// DeliveryLog returns a copy of every send attempted through this
// endpoint, for test assertions.
func (e *SimulatedEndpoint) DeliveryLog() []DeliveryRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]DeliveryRecord, len(e.deliveryLog))
	copy(out, e.deliveryLog)
	return out
}

// ClearDeliveryLog empties the delivery log, e.g. between test cases.
func (e *SimulatedEndpoint) ClearDeliveryLog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deliveryLog = nil
}
