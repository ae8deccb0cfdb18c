package batch

import (
	"time"

	"github.com/opd-ai/dispersy-go/timeline"
)

// Config is one meta-message's batch window (spec.md §3, §4.5).
type Config struct {
	MaxWindow time.Duration
	MaxSize   int
}

// IncomingPacket is one packet queued for batching, already decoded and
// resolved far enough to key dedup and timeline checks: MemberID is the
// first (or only) signer's store row id (0 if the signer has never been
// seen locally — such packets always fail verification and are
// dropped), Meta is the meta-message name, Action is the permission the
// message's author must hold.
type IncomingPacket struct {
	Raw        []byte
	Community  []byte
	MemberID   int64
	MemberBID  int64 // co-signer's store row id, double-signed meta-messages only
	GlobalTime uint64
	Meta       string
	Action     timeline.Action
	Arrived    time.Time
}

// DropReason names why a packet did not reach policy evaluation.
type DropReason uint8

const (
	DropDuplicateInBatch DropReason = iota
	DropDuplicateInStore
	DropInvalidSignature
)

func (r DropReason) String() string {
	switch r {
	case DropDuplicateInBatch:
		return "duplicate-in-batch"
	case DropDuplicateInStore:
		return "duplicate-in-store"
	case DropInvalidSignature:
		return "invalid-signature"
	default:
		return "unknown"
	}
}

// Dropped records one packet removed during a flush.
type Dropped struct {
	Packet *IncomingPacket
	Reason DropReason
}

// FlushResult is the outcome of flushing one meta-message's batch.
type FlushResult struct {
	Meta     string
	Accepted []*IncomingPacket
	Dropped  []Dropped
	Delayed  []*timeline.ProofRequest
}

// ExistsFunc reports whether a store row already exists for p's dedup
// key, ahead of signature verification (spec.md §4.5 step 2). The
// caller's closure chooses the key shape: (community, first-signer,
// global_time) for single-member meta-messages, or (community,
// member-combination, global_time) for last-N double-member ones.
type ExistsFunc func(p *IncomingPacket) bool

// VerifyFunc verifies a packet's signature(s); a non-nil error drops
// the packet (spec.md §4.5 step 3).
type VerifyFunc func(p *IncomingPacket) error

// CheckFunc runs the timeline check for a verified packet (spec.md
// §4.5 step 4).
type CheckFunc func(memberID int64, meta string, action timeline.Action, globalTime uint64) (timeline.Decision, *timeline.ProofRequest)
