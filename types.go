package dispersy

import (
	"time"

	"github.com/opd-ai/dispersy-go/batch"
	"github.com/opd-ai/dispersy-go/timeline"
	"github.com/opd-ai/dispersy-go/undo"
	"github.com/opd-ai/dispersy-go/wire"
)

// DistributionKind selects which policy governs a meta-message's
// storage and retention (spec.md §4.6).
type DistributionKind uint8

const (
	// DistributionFullSync keeps every accepted message indefinitely.
	DistributionFullSync DistributionKind = iota
	// DistributionLastNSingle keeps at most N rows per (community,
	// member, meta-message) for single-member authentication.
	DistributionLastNSingle
	// DistributionLastNDouble keeps at most N rows per (community,
	// member-combination, meta-message) for double-member
	// authentication.
	DistributionLastNDouble
	// DistributionSequence maintains a dense per-(meta, member)
	// sequence number with replace/orphan-drop semantics.
	DistributionSequence
)

// DestinationKind selects how a meta-message's packets are addressed
// on the wire (spec.md §3).
type DestinationKind uint8

const (
	// DestinationCommunity addresses the community as a whole
	// (gossip/sync targets).
	DestinationCommunity DestinationKind = iota
	// DestinationCandidate addresses one specific peer (e.g. a
	// signature request, a missing-* response).
	DestinationCandidate
)

// DeliveryOrder records ascending or descending global_time order for
// DestinationCommunity meta-messages (spec.md §4.6). Handler delivery
// does not consult it.
type DeliveryOrder uint8

const (
	OrderInOrder DeliveryOrder = iota
	OrderOutOrder
)

// MetaMessage describes one kind of message a Community accepts
// (spec.md §3's Meta-message): its authentication, distribution and
// destination policies, permission resolution, and batching window.
// A Community is configured with a fixed set of these before it starts
// accepting traffic; DefineMeta registers one.
type MetaMessage struct {
	Name         string
	Auth         wire.AuthenticationType
	Distribution DistributionKind
	// LastN is the retention capacity for DistributionLastNSingle and
	// DistributionLastNDouble; ignored otherwise.
	LastN       int
	Destination DestinationKind
	Order       DeliveryOrder
	Resolution  timeline.Resolution
	Batch       batch.Config
	// Action is the permission action the timeline checks for this
	// meta-message's author (usually timeline.Permit).
	Action timeline.Action
	// Undo, if non-nil, is invoked when a stored row of this
	// meta-message is marked undone (spec.md §4.8).
	Undo undo.UndoCallback
	// Handler, if non-nil, is invoked once per accepted row, after a
	// batch flush applies its policy, in the order the flush returns the
	// accepted packets; Order is not consulted.
	Handler func(row *Message)
}

// Message is the facade view of one accepted row: spec.md §3's
// Message, paired with its originating meta-message name for
// convenience.
type Message struct {
	Meta       string
	Community  []byte
	MemberID   int64
	GlobalTime uint64
	Sequence   uint32
	Payload    []byte
	Packet     []byte
	Arrived    time.Time
}
