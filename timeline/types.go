package timeline

// Action is a permission a member may hold for a given meta-message.
type Action uint8

const (
	// Permit is the right to author a message of the meta-message.
	Permit Action = iota
	// Authorize is the right to grant other members permissions for
	// the meta-message.
	Authorize
	// Revoke is the right to remove other members' permissions for the
	// meta-message.
	Revoke
	// Undo is the right to mark another member's message of the
	// meta-message as undone (undo-other, spec.md §4.8).
	Undo
)

func (a Action) String() string {
	switch a {
	case Permit:
		return "permit"
	case Authorize:
		return "authorize"
	case Revoke:
		return "revoke"
	case Undo:
		return "undo"
	default:
		return "unknown"
	}
}

// Resolution is a meta-message's permission model.
type Resolution uint8

const (
	// ResolutionPublic requires no permission: every member may act.
	ResolutionPublic Resolution = iota
	// ResolutionLinear requires the acting member to hold the relevant
	// Action at the message's global_time, via the grant chain.
	ResolutionLinear
	// ResolutionDynamic behaves like Linear but the resolution itself
	// may change over a meta-message's life via a dynamic-settings
	// event (spec.md §4.8); ResolutionAt answers which applied at a
	// given global_time.
	ResolutionDynamic
)

// Decision is Check's verdict for one message.
type Decision uint8

const (
	// Accept means the message may proceed to policy evaluation.
	Accept Decision = iota
	// DelayByProof means the permission's grant chain is not (yet)
	// known locally; the caller should request it and hold the
	// message in a delay buffer (spec.md §4.4, §7).
	DelayByProof
	// Drop means the message is permanently denied.
	Drop
)

// ProofRequest names the missing grant Check could not resolve
// locally; it is what a dispersy-missing-proof request carries.
type ProofRequest struct {
	Member     int64
	Meta       string
	Action     Action
	GlobalTime uint64
}

// GrantEvent is a dispersy-authorize: granter grants grantee the listed
// actions for meta, effective from globalTime, proved by the message
// stored at proofRowID.
type GrantEvent struct {
	Meta       string
	Grantee    int64
	Actions    []Action
	GrantedBy  int64
	GlobalTime uint64
	ProofRowID int64
}

// RevokeEvent is a dispersy-revoke: it removes the listed actions from
// grantee for meta, effective from globalTime+1 (spec.md §4.8).
type RevokeEvent struct {
	Meta       string
	Grantee    int64
	Actions    []Action
	RevokedBy  int64
	GlobalTime uint64
	ProofRowID int64
}

// DynamicSettingsEvent changes a meta-message's resolution policy,
// effective from globalTime (spec.md §4.8).
type DynamicSettingsEvent struct {
	Meta       string
	Resolution Resolution
	ChangedBy  int64
	GlobalTime uint64
	ProofRowID int64
}

type grantKey struct {
	member int64
	meta   string
	action Action
}

type grantRange struct {
	from       uint64
	to         uint64 // 0 = unbounded
	grantedBy  int64
	proofRowID int64
}

func (g grantRange) activeAt(t uint64) bool {
	return g.from <= t && (g.to == 0 || t < g.to)
}

type resolutionChange struct {
	from       uint64
	resolution Resolution
	proofRowID int64
}
