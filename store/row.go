package store

// Row is one stored message (spec.md §3's Message, as persisted).
// Member is always the first (or only) signer's member id; for a
// double-signed row the co-signer's id lives in the double_signed_sync
// reference table, fetched separately via DoubleSignedMembers.
type Row struct {
	ID          int64
	Community   []byte
	Member      int64
	MetaMessage string
	GlobalTime  uint64
	Packet      []byte
	// Sequence is the dense per-(meta, member) sequence number for
	// sequence-numbered distribution (spec.md §4.6); 0 for policies
	// that don't use one.
	Sequence uint32
	// Undone is the packet_id of the undo row if this row has been
	// undone, or 0 if it is live (spec.md §3: "undone ∈ {0, packet_id}").
	Undone int64
}

// IsUndone reports whether the row has been marked undone.
func (r *Row) IsUndone() bool { return r.Undone != 0 }
