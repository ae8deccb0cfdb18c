package antientropy

import (
	"sync"
	"time"

	"github.com/opd-ai/dispersy-go/store"
)

// CollectSyncResponse walks every live row in community at or after
// filter.LowGlobalTime and returns the ones the filter says are
// missing on the requester's side, oldest first (spec.md §4.7).
func CollectSyncResponse(s *store.Store, community []byte, filter *SyncFilter) ([]*store.Row, error) {
	rows, err := s.FetchSince(community, filter.LowGlobalTime)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Row, 0, len(rows))
	for _, r := range rows {
		if r.IsUndone() {
			continue
		}
		if filter.Matches(r.GlobalTime, r.Packet) {
			out = append(out, r)
		}
	}
	return out, nil
}

// MissingProofRequest asks a peer to supply the authorize/revoke chain
// proving member holds permission for action on meta at globalTime
// (spec.md §6's delay-by-proof handling).
type MissingProofRequest struct {
	Community  []byte
	Member     int64
	Meta       string
	GlobalTime uint64
}

// MissingMessageRequest asks a peer to resend a specific
// (member, global_time) message this side never received.
type MissingMessageRequest struct {
	Community  []byte
	Member     int64
	GlobalTime uint64
}

// MissingSequenceRequest asks a peer to resend every message for
// (member, meta) in the sequence range [From, To], used to close a gap
// detected by policy.Sequence (spec.md §4.6).
type MissingSequenceRequest struct {
	Community []byte
	Member    int64
	Meta      string
	From, To  uint32
}

// MissingIdentityRequest asks a peer for the dispersy-identity messages
// that bind memberID's public key within community, needed before any
// of its messages can be signature-checked.
type MissingIdentityRequest struct {
	Community []byte
	Member    int64
}

// ResolveMissingMessage answers a MissingMessageRequest: the
// meta-message isn't known to the requester, so this scans every row
// at globalTime for memberID rather than using store.Fetch directly.
func ResolveMissingMessage(s *store.Store, req MissingMessageRequest) ([]*store.Row, error) {
	all, err := s.FetchSince(req.Community, req.GlobalTime)
	if err != nil {
		return nil, err
	}
	var out []*store.Row
	for _, r := range all {
		if r.Member == req.Member && r.GlobalTime == req.GlobalTime {
			out = append(out, r)
		}
	}
	return out, nil
}

// ResolveMissingSequence answers a MissingSequenceRequest from the
// store, returning every stored row for (member, meta) whose sequence
// number falls in [From, To].
func ResolveMissingSequence(s *store.Store, req MissingSequenceRequest) ([]*store.Row, error) {
	rows, err := s.FetchByMember(req.Community, req.Member, req.Meta)
	if err != nil {
		return nil, err
	}
	var out []*store.Row
	for _, r := range rows {
		if r.Sequence >= req.From && r.Sequence <= req.To {
			out = append(out, r)
		}
	}
	return out, nil
}

// ResponseLimiter enforces dispersy_sync_response_limit: at most N
// sync responses answered per peer within a sliding window, so a
// single misbehaving or overeager peer can't monopolize outbound sync
// traffic.
type ResponseLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	seen   map[string][]time.Time
}

// NewResponseLimiter returns a limiter allowing at most limit
// responses per candidate key within window.
func NewResponseLimiter(limit int, window time.Duration) *ResponseLimiter {
	return &ResponseLimiter{window: window, limit: limit, seen: make(map[string][]time.Time)}
}

// Allow reports whether a sync response to key may be sent now, and if
// so records it against the window.
func (l *ResponseLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	times := l.seen[key]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.seen[key] = kept
		return false
	}
	l.seen[key] = append(kept, now)
	return true
}
