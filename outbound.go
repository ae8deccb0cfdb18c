package dispersy

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dispersy-go/antientropy"
	"github.com/opd-ai/dispersy-go/crypto"
	"github.com/opd-ai/dispersy-go/endpoint"
	"github.com/opd-ai/dispersy-go/policy"
	"github.com/opd-ai/dispersy-go/store"
	"github.com/opd-ai/dispersy-go/timeline"
	"github.com/opd-ai/dispersy-go/undo"
	"github.com/opd-ai/dispersy-go/wire"
)

// signAndEncode signs pkt with the local member's key (MemberAuthentication
// only; NoAuthentication packets pass through unchanged) and returns the
// final encoded bytes.
func (c *Community) signAndEncode(pkt *wire.Packet) ([]byte, error) {
	if pkt.AuthType != wire.MemberAuthentication {
		return wire.Encode(pkt, crypto.SignatureSize)
	}
	unsigned, err := wire.Encode(pkt, crypto.SignatureSize)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(wire.SignedRegionSingle(unsigned, crypto.SignatureSize), c.MyKeyPair.Private)
	if err != nil {
		return nil, err
	}
	pkt.SigA = sig[:]
	return wire.Encode(pkt, crypto.SignatureSize)
}

// applyDistributionPolicy stores row under meta's distribution policy;
// shared by applyAccepted (inbound) and Post (outbound) so a locally
// authored message is subject to exactly the same eviction/replace
// rules as one received over the wire.
func (c *Community) applyDistributionPolicy(meta *MetaMessage, row *store.Row, memberBID int64, sequence uint32) error {
	switch meta.Distribution {
	case DistributionFullSync:
		_, err := (policy.FullSync{}).Apply(c.store, row)
		return err
	case DistributionLastNSingle:
		_, err := (&policy.LastNSingle{N: meta.LastN}).Apply(c.store, row)
		return err
	case DistributionLastNDouble:
		_, err := (&policy.LastNDouble{N: meta.LastN}).Apply(c.store, row, row.Member, memberBID)
		return err
	case DistributionSequence:
		_, err := (policy.Sequence{}).Apply(c.store, row, sequence)
		return err
	default:
		return fmt.Errorf("dispersy: unknown distribution kind for %s", meta.Name)
	}
}

// broadcast sends raw to every known candidate; DestinationCommunity
// meta-messages reach the rest of the overlay this way between sync
// rounds, same as spec.md §4.6's gossip path.
func (c *Community) broadcast(raw []byte) {
	for _, cand := range c.candidates.All() {
		if err := c.endpoint.Send(raw, cand); err != nil {
			c.log.WithError(err).Debug("failed to broadcast packet")
		}
	}
}

// Post authors a new message of metaName with the given payload,
// stores it locally, and broadcasts it to known candidates (spec.md
// §3's CreateMessage operation for DestinationCommunity meta-messages).
func (c *Community) Post(metaName string, payload []byte) (*Message, error) {
	meta := c.lookupMeta(metaName)
	if meta == nil {
		return nil, fmt.Errorf("dispersy: unknown meta-message %q", metaName)
	}
	gt := c.NextGlobalTime()
	if meta.Resolution != timeline.ResolutionPublic && !c.timeline.HasPermission(c.MyMemberID, metaName, meta.Action, gt) {
		return nil, timeline.ErrPermissionDenied
	}

	var seq uint32
	if meta.Distribution == DistributionSequence {
		maxSeq, err := c.store.MaxSequence(c.Prefix[:], c.MyMemberID, metaName)
		if err != nil {
			return nil, err
		}
		seq = maxSeq + 1
	}

	pkt := &wire.Packet{
		CommunityPrefix: c.Prefix,
		MetaMessageID:   c.metaID(metaName),
		AuthType:        wire.MemberAuthentication,
		MemberA:         c.MyKeyPair.Public[:],
		GlobalTime:      gt,
		HasSequence:     meta.Distribution == DistributionSequence,
		Sequence:        seq,
		DestType:        wire.CommunityDestination,
		Payload:         payload,
	}
	raw, err := c.signAndEncode(pkt)
	if err != nil {
		return nil, err
	}

	row := &store.Row{Community: c.Prefix[:], Member: c.MyMemberID, MetaMessage: metaName, GlobalTime: gt, Packet: raw}
	if err := c.applyDistributionPolicy(meta, row, 0, seq); err != nil {
		return nil, err
	}
	c.advanceGlobalTime(gt)
	c.broadcast(raw)

	return &Message{Meta: metaName, Community: c.Prefix[:], MemberID: c.MyMemberID, GlobalTime: gt, Sequence: row.Sequence, Payload: payload, Packet: raw}, nil
}

// Authorize issues a dispersy-authorize granting granteePub the listed
// actions for meta, signed by the local member (spec.md §4.4). The
// local member must already hold Authorize for meta, unless it is the
// community's master.
func (c *Community) Authorize(granteePub [32]byte, meta string, actions []timeline.Action) error {
	gt := c.NextGlobalTime()
	payload := encodeGrantPayload(granteePub[:], meta, actions)
	pkt := &wire.Packet{
		CommunityPrefix: c.Prefix,
		MetaMessageID:   metaIDAuthorize,
		AuthType:        wire.MemberAuthentication,
		MemberA:         c.MyKeyPair.Public[:],
		GlobalTime:      gt,
		DestType:        wire.CommunityDestination,
		Payload:         payload,
	}
	raw, err := c.signAndEncode(pkt)
	if err != nil {
		return err
	}
	granteeID, err := c.store.UpsertMember(granteePub[:])
	if err != nil {
		return err
	}
	row := &store.Row{Community: c.Prefix[:], Member: c.MyMemberID, MetaMessage: "dispersy-authorize", GlobalTime: gt, Packet: raw}
	rowID, err := c.store.InsertRow(row)
	if err != nil {
		return err
	}
	if err := c.timeline.ApplyAuthorize(timeline.GrantEvent{
		Meta: meta, Grantee: granteeID, Actions: actions, GrantedBy: c.MyMemberID, GlobalTime: gt, ProofRowID: rowID,
	}); err != nil {
		_ = c.store.DeleteRow(rowID)
		return err
	}
	c.advanceGlobalTime(gt)
	c.broadcast(raw)
	return nil
}

// Revoke issues a dispersy-revoke removing actions from granteePub for
// meta, effective from the revoke's global_time+1 (spec.md §4.8).
func (c *Community) Revoke(granteePub [32]byte, meta string, actions []timeline.Action) error {
	gt := c.NextGlobalTime()
	payload := encodeGrantPayload(granteePub[:], meta, actions)
	pkt := &wire.Packet{
		CommunityPrefix: c.Prefix,
		MetaMessageID:   metaIDRevoke,
		AuthType:        wire.MemberAuthentication,
		MemberA:         c.MyKeyPair.Public[:],
		GlobalTime:      gt,
		DestType:        wire.CommunityDestination,
		Payload:         payload,
	}
	raw, err := c.signAndEncode(pkt)
	if err != nil {
		return err
	}
	granteeID, err := c.store.UpsertMember(granteePub[:])
	if err != nil {
		return err
	}
	row := &store.Row{Community: c.Prefix[:], Member: c.MyMemberID, MetaMessage: "dispersy-revoke", GlobalTime: gt, Packet: raw}
	rowID, err := c.store.InsertRow(row)
	if err != nil {
		return err
	}
	if err := c.timeline.ApplyRevoke(timeline.RevokeEvent{
		Meta: meta, Grantee: granteeID, Actions: actions, RevokedBy: c.MyMemberID, GlobalTime: gt, ProofRowID: rowID,
	}); err != nil {
		_ = c.store.DeleteRow(rowID)
		return err
	}
	c.advanceGlobalTime(gt)
	c.broadcast(raw)
	return nil
}

// SetDynamicSettings changes meta's resolution policy and cascades the
// change over already-stored messages (spec.md §4.8).
func (c *Community) SetDynamicSettings(meta string, resolution timeline.Resolution) (*undo.CascadeResult, error) {
	gt := c.NextGlobalTime()
	payload := encodeDynamicSettingsPayload(meta, resolution)
	pkt := &wire.Packet{
		CommunityPrefix: c.Prefix,
		MetaMessageID:   metaIDDynamicSettings,
		AuthType:        wire.MemberAuthentication,
		MemberA:         c.MyKeyPair.Public[:],
		GlobalTime:      gt,
		DestType:        wire.CommunityDestination,
		Payload:         payload,
	}
	raw, err := c.signAndEncode(pkt)
	if err != nil {
		return nil, err
	}
	row := &store.Row{Community: c.Prefix[:], Member: c.MyMemberID, MetaMessage: "dispersy-dynamic-settings", GlobalTime: gt, Packet: raw}
	rowID, err := c.store.InsertRow(row)
	if err != nil {
		return nil, err
	}
	if err := c.timeline.ApplyDynamicSettings(timeline.DynamicSettingsEvent{
		Meta: meta, Resolution: resolution, ChangedBy: c.MyMemberID, GlobalTime: gt, ProofRowID: rowID,
	}); err != nil {
		_ = c.store.DeleteRow(rowID)
		return nil, err
	}
	c.advanceGlobalTime(gt)
	c.broadcast(raw)
	return c.undoEngine.CascadeDynamicSettings(c.Prefix[:], meta, gt, rowID)
}

// Undo marks target as undone by the local member, or returns the
// existing undo message unchanged if target is already undone (spec.md
// §4.8's local idempotence rule).
func (c *Community) Undo(target *store.Row) (*Message, error) {
	existing, alreadyExists, err := c.undoEngine.CreateUndo(target.ID)
	if err != nil {
		return nil, err
	}
	if alreadyExists {
		return &Message{Meta: "dispersy-undo", Community: c.Prefix[:], GlobalTime: existing.GlobalTime, Packet: existing.Packet}, nil
	}

	targetMember, err := c.store.GetMember(target.Member)
	if err != nil {
		return nil, err
	}
	gt := c.NextGlobalTime()
	payload := encodeUndoPayload(targetMember.PublicKey, target.GlobalTime)
	pkt := &wire.Packet{
		CommunityPrefix: c.Prefix,
		MetaMessageID:   metaIDUndo,
		AuthType:        wire.MemberAuthentication,
		MemberA:         c.MyKeyPair.Public[:],
		GlobalTime:      gt,
		DestType:        wire.CommunityDestination,
		Payload:         payload,
	}
	raw, err := c.signAndEncode(pkt)
	if err != nil {
		return nil, err
	}
	undoRow := &store.Row{Community: c.Prefix[:], Member: c.MyMemberID, MetaMessage: "dispersy-undo", GlobalTime: gt, Packet: raw}
	outcome, err := c.undoEngine.Apply(c.Prefix[:], undoRow, target.ID)
	if err != nil {
		return nil, err
	}
	c.advanceGlobalTime(gt)
	c.broadcast(raw)
	c.log.WithFields(logrus.Fields{"target": outcome.TargetRowID, "undo_row": outcome.UndoRowID}).Debug("undo applied locally")
	return &Message{Meta: "dispersy-undo", Community: c.Prefix[:], MemberID: c.MyMemberID, GlobalTime: gt, Packet: raw}, nil
}

// SendIntroductionRequest builds a sync filter over this community's
// recently stored packets and sends it to to, soliciting a sync
// response (spec.md §4.7).
func (c *Community) SendIntroductionRequest(to endpoint.Candidate, lowGlobalTime, modulo, offset uint64) error {
	rows, err := c.store.FetchSince(c.Prefix[:], lowGlobalTime)
	if err != nil {
		return err
	}
	filter, err := antientropy.NewSyncFilter(lowGlobalTime, modulo, offset, len(rows))
	if err != nil {
		return err
	}
	for _, row := range rows {
		filter.Add(row.Packet)
	}
	payload, err := filter.MarshalBinary()
	if err != nil {
		return err
	}
	pkt := &wire.Packet{
		CommunityPrefix: c.Prefix,
		MetaMessageID:   metaIDIntroductionRequest,
		AuthType:        wire.NoAuthentication,
		GlobalTime:      c.NextGlobalTime(),
		DestType:        wire.CandidateDestination,
		Destination:     to.String(),
		Payload:         payload,
	}
	raw, err := wire.Encode(pkt, crypto.SignatureSize)
	if err != nil {
		return err
	}
	return c.endpoint.Send(raw, to)
}
