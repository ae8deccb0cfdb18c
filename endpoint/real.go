package endpoint

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// RealEndpoint delivers packets over an actual UDP socket. Adapted from
// the teacher's transport.UDPTransport: a single net.PacketConn, a
// background read loop dispatching to a registered handler, and a
// context-cancellation shutdown path.
type RealEndpoint struct {
	conn   net.PacketConn
	local  Candidate
	bufLen int

	mu      sync.RWMutex
	handler Handler
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRealEndpoint opens a UDP socket at listenAddr (e.g. ":33445") and
// starts its background receive loop.
func NewRealEndpoint(listenAddr string, bufLen int) (*RealEndpoint, error) {
	if bufLen <= 0 {
		bufLen = 65536
	}
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	local, err := CandidateFromAddr(conn.LocalAddr())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &RealEndpoint{
		conn:   conn,
		local:  local,
		bufLen: bufLen,
		ctx:    ctx,
		cancel: cancel,
	}
	go e.receiveLoop()
	return e, nil
}

func (e *RealEndpoint) receiveLoop() {
	buffer := make([]byte, e.bufLen)
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		n, addr, err := e.conn.ReadFrom(buffer)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			continue
		}

		from, err := CandidateFromAddr(addr)
		if err != nil {
			logrus.WithFields(logrus.Fields{"function": "receiveLoop", "package": "endpoint", "error": err.Error()}).
				Warn("dropping packet with unparseable source address")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buffer[:n])

		e.mu.RLock()
		h := e.handler
		e.mu.RUnlock()
		if h != nil {
			go h(packet, from)
		}
	}
}

// Send transmits packet to destination over the UDP socket.
func (e *RealEndpoint) Send(packet []byte, destination Candidate) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	_, err := e.conn.WriteTo(packet, destination.UDPAddr())
	return err
}

// RegisterHandler sets the packet-received callback.
func (e *RealEndpoint) RegisterHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// LocalCandidate returns the bound local address.
func (e *RealEndpoint) LocalCandidate() Candidate { return e.local }

// IsSimulation always reports false for a real socket endpoint.
func (e *RealEndpoint) IsSimulation() bool { return false }

// Close stops the receive loop and closes the underlying socket.
func (e *RealEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	return e.conn.Close()
}
