package endpoint

import (
	"fmt"
	"net"
)

// Candidate is a network address a peer can be reached at (spec.md's
// destination type for CandidateDestination messages): an IP and UDP
// port, with no further relationship implied beyond reachability.
type Candidate struct {
	IP   net.IP
	Port uint16
}

// String renders the candidate in "ip:port" form, matching
// wire.Packet's Destination field encoding.
func (c Candidate) String() string {
	return fmt.Sprintf("%s:%d", c.IP.String(), c.Port)
}

// UDPAddr converts the candidate to a *net.UDPAddr for socket I/O.
func (c Candidate) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.IP, Port: int(c.Port)}
}

// CandidateFromAddr builds a Candidate from a net.Addr returned by a
// socket read, accepting both *net.UDPAddr and anything else whose
// String() is "host:port".
func CandidateFromAddr(addr net.Addr) (Candidate, error) {
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		return Candidate{IP: udpAddr.IP, Port: uint16(udpAddr.Port)}, nil
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Candidate{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Candidate{}, fmt.Errorf("endpoint: unparseable host %q", host)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Candidate{}, fmt.Errorf("endpoint: unparseable port %q", portStr)
	}
	return Candidate{IP: ip, Port: uint16(port)}, nil
}
