package wire

// CommunityPrefixSize is the length in bytes of the community identifier
// (cid) that opens every packet.
const CommunityPrefixSize = 20

// AuthenticationType selects how a packet's author(s) are represented
// and signed.
type AuthenticationType uint8

const (
	// NoAuthentication carries no member binding or signature; used by
	// a narrow set of bootstrap-only messages.
	NoAuthentication AuthenticationType = iota
	// MemberAuthentication binds one member's public key and carries
	// that member's trailing signature.
	MemberAuthentication
	// DoubleMemberAuthentication binds two members' public keys and
	// carries both signatures: sigB (co-signer) then sigA (first
	// signer, trailing).
	DoubleMemberAuthentication
)

// DestinationType selects how a packet's destination header is encoded.
type DestinationType uint8

const (
	// CommunityDestination has no destination payload: the packet is
	// addressed to the community as a whole (gossip/sync targets).
	CommunityDestination DestinationType = iota
	// CandidateDestination carries a single candidate address: the
	// packet is addressed to one specific peer (e.g. a signature
	// request, a missing-* response).
	CandidateDestination
)

// Packet is the decoded form of one wire packet.
type Packet struct {
	CommunityPrefix [CommunityPrefixSize]byte
	MetaMessageID   uint16

	AuthType   AuthenticationType
	MemberA    []byte // first (or only) signer's public key
	MemberB    []byte // co-signer's public key, DoubleMemberAuthentication only

	GlobalTime uint64
	Sequence   uint32 // only meaningful for sequence-numbered distribution; 0 otherwise
	HasSequence bool

	DestType    DestinationType
	Destination string // "ip:port" form, CandidateDestination only

	Payload []byte

	// SigB is the co-signer's signature (DoubleMemberAuthentication
	// only); nil/zero until the co-signer has responded.
	SigB []byte
	// SigA is the sole signature (MemberAuthentication) or the first
	// signer's closing signature (DoubleMemberAuthentication).
	SigA []byte
}
