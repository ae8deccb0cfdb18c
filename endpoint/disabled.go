package endpoint

// DisabledEndpoint is the offline mode spec.md's scenario harnesses
// use: it silently discards every outbound send and never delivers
// anything inbound (there is nothing to register a handler against).
type DisabledEndpoint struct {
	local Candidate
}

// NewDisabledEndpoint returns an Endpoint that drops all I/O.
func NewDisabledEndpoint(local Candidate) *DisabledEndpoint {
	return &DisabledEndpoint{local: local}
}

// Send silently discards packet and reports success, matching
// spec.md's "a disabled endpoint silently discards outbound."
func (e *DisabledEndpoint) Send(packet []byte, destination Candidate) error { return nil }

// RegisterHandler is a no-op: a disabled endpoint never delivers
// anything inbound to call it with.
func (e *DisabledEndpoint) RegisterHandler(h Handler) {}

// LocalCandidate returns the candidate this endpoint pretends to be.
func (e *DisabledEndpoint) LocalCandidate() Candidate { return e.local }

// IsSimulation reports true: a disabled endpoint is a test/harness
// construct, never a live network connection.
func (e *DisabledEndpoint) IsSimulation() bool { return true }

// Close is a no-op; a disabled endpoint holds no resources.
func (e *DisabledEndpoint) Close() error { return nil }
