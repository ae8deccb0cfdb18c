package dispersy

import (
	"bytes"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dispersy-go/antientropy"
	"github.com/opd-ai/dispersy-go/batch"
	"github.com/opd-ai/dispersy-go/crypto"
	"github.com/opd-ai/dispersy-go/endpoint"
	"github.com/opd-ai/dispersy-go/store"
	"github.com/opd-ai/dispersy-go/timeline"
	"github.com/opd-ai/dispersy-go/wire"
)

// onPacket is the endpoint.Handler registered for this community: it
// decodes the header and routes control traffic (introduction/missing-*
// requests, authorize/revoke/dynamic-settings/undo) to their dedicated
// handlers; every other meta-message goes into the batch accumulator
// for the usual dedup/verify/timeline-check/policy pipeline (spec.md
// §4.5).
func (c *Community) onPacket(raw []byte, from endpoint.Candidate) {
	pkt, err := wire.Decode(raw, crypto.SignatureSize)
	if err != nil {
		c.log.WithFields(logrus.Fields{"from": from.String(), "error": err}).Debug("dropping malformed packet")
		return
	}
	if !bytes.Equal(pkt.CommunityPrefix[:], c.Prefix[:]) {
		return
	}

	switch pkt.MetaMessageID {
	case metaIDIntroductionRequest:
		c.handleIntroductionRequest(pkt, from)
		return
	case metaIDMissingMessage:
		c.handleMissingMessage(pkt, from)
		return
	case metaIDMissingSequence:
		c.handleMissingSequence(pkt, from)
		return
	case metaIDAuthorize:
		c.handleAuthorize(raw, pkt)
		return
	case metaIDRevoke:
		c.handleRevoke(raw, pkt)
		return
	case metaIDDynamicSettings:
		c.handleDynamicSettings(raw, pkt)
		return
	case metaIDUndo:
		c.handleUndo(raw, pkt, from)
		return
	}

	meta := c.lookupMeta(c.metaNameByID(pkt.MetaMessageID))
	if meta == nil {
		c.log.WithFields(logrus.Fields{"meta_id": pkt.MetaMessageID}).Debug("packet for unregistered meta-message")
		return
	}

	memberID, err := c.store.UpsertMember(pkt.MemberA)
	if err != nil {
		c.log.WithError(err).Warn("failed to register packet author")
		return
	}
	var memberBID int64
	if pkt.AuthType == wire.DoubleMemberAuthentication {
		memberBID, err = c.store.UpsertMember(pkt.MemberB)
		if err != nil {
			c.log.WithError(err).Warn("failed to register co-signer")
			return
		}
	}

	p := &batch.IncomingPacket{
		Raw:        raw,
		Community:  c.Prefix[:],
		MemberID:   memberID,
		MemberBID:  memberBID,
		GlobalTime: pkt.GlobalTime,
		Meta:       meta.Name,
		Action:     meta.Action,
		Arrived:    time.Now(),
	}
	if err := c.accum.Add(p); err != nil {
		c.log.WithError(err).Debug("failed to queue packet for batching")
	}
}

// handleIntroductionRequest answers a sync filter with every matching
// stored packet, rate-limited per requesting candidate (spec.md §4.7).
func (c *Community) handleIntroductionRequest(pkt *wire.Packet, from endpoint.Candidate) {
	if !c.limiter.Allow(from.String(), time.Now()) {
		c.log.WithFields(logrus.Fields{"from": from.String()}).Debug("sync response rate-limited")
		return
	}
	filter, err := antientropy.UnmarshalSyncFilter(pkt.Payload)
	if err != nil {
		c.log.WithError(err).Debug("malformed sync filter")
		return
	}
	rows, err := antientropy.CollectSyncResponse(c.store, c.Prefix[:], filter)
	if err != nil {
		c.log.WithError(err).Warn("failed to collect sync response")
		return
	}
	for _, row := range rows {
		if err := c.endpoint.Send(row.Packet, from); err != nil {
			c.log.WithError(err).Debug("failed to send sync response packet")
		}
	}
}

func (c *Community) handleMissingMessage(pkt *wire.Packet, from endpoint.Candidate) {
	req, err := decodeMissingMessageRequest(pkt.Payload)
	if err != nil {
		c.log.WithError(err).Debug("malformed missing-message request")
		return
	}
	memberID, err := c.store.UpsertMember(req.MemberPub)
	if err != nil {
		c.log.WithError(err).Warn("failed to register missing-message target")
		return
	}
	rows, err := antientropy.ResolveMissingMessage(c.store, antientropy.MissingMessageRequest{
		Community: c.Prefix[:], Member: memberID, GlobalTime: req.GlobalTime,
	})
	if err != nil {
		c.log.WithError(err).Warn("failed to resolve missing-message request")
		return
	}
	for _, row := range rows {
		if err := c.endpoint.Send(row.Packet, from); err != nil {
			c.log.WithError(err).Debug("failed to send missing-message response")
		}
	}
}

func (c *Community) handleMissingSequence(pkt *wire.Packet, from endpoint.Candidate) {
	req, err := decodeMissingSequenceRequest(pkt.Payload)
	if err != nil {
		c.log.WithError(err).Debug("malformed missing-sequence request")
		return
	}
	memberID, err := c.store.UpsertMember(req.MemberPub)
	if err != nil {
		c.log.WithError(err).Warn("failed to register missing-sequence target")
		return
	}
	rows, err := antientropy.ResolveMissingSequence(c.store, antientropy.MissingSequenceRequest{
		Community: c.Prefix[:], Member: memberID, Meta: req.Meta, From: req.From, To: req.To,
	})
	if err != nil {
		c.log.WithError(err).Warn("failed to resolve missing-sequence request")
		return
	}
	for _, row := range rows {
		if err := c.endpoint.Send(row.Packet, from); err != nil {
			c.log.WithError(err).Debug("failed to send missing-sequence response")
		}
	}
}

// handleAuthorize applies an incoming dispersy-authorize message
// (spec.md §4.4). Permission for the grant itself is checked by
// timeline.ApplyAuthorize; this handler only dedups, verifies, and
// stores the carrying packet.
func (c *Community) handleAuthorize(raw []byte, pkt *wire.Packet) {
	granterID, payload, ok := c.admitControlPacket(raw, pkt, "dispersy-authorize")
	if !ok {
		return
	}
	grant, err := decodeGrantPayload(payload)
	if err != nil {
		c.log.WithError(err).Debug("malformed authorize payload")
		return
	}
	granteeID, err := c.store.UpsertMember(grant.GranteePub)
	if err != nil {
		c.log.WithError(err).Warn("failed to register grantee")
		return
	}
	row := &store.Row{Community: c.Prefix[:], Member: granterID, MetaMessage: "dispersy-authorize", GlobalTime: pkt.GlobalTime, Packet: raw}
	rowID, err := c.store.InsertRow(row)
	if err != nil {
		c.log.WithError(err).Debug("failed to store authorize row")
		return
	}
	err = c.timeline.ApplyAuthorize(timeline.GrantEvent{
		Meta: grant.Meta, Grantee: granteeID, Actions: grant.Actions,
		GrantedBy: granterID, GlobalTime: pkt.GlobalTime, ProofRowID: rowID,
	})
	if err != nil {
		c.log.WithError(err).Warn("authorize rejected by timeline")
		_ = c.store.DeleteRow(rowID)
		return
	}
	c.advanceGlobalTime(pkt.GlobalTime)
}

// handleRevoke mirrors handleAuthorize for dispersy-revoke.
func (c *Community) handleRevoke(raw []byte, pkt *wire.Packet) {
	revokerID, payload, ok := c.admitControlPacket(raw, pkt, "dispersy-revoke")
	if !ok {
		return
	}
	grant, err := decodeGrantPayload(payload)
	if err != nil {
		c.log.WithError(err).Debug("malformed revoke payload")
		return
	}
	granteeID, err := c.store.UpsertMember(grant.GranteePub)
	if err != nil {
		c.log.WithError(err).Warn("failed to register revoke target")
		return
	}
	row := &store.Row{Community: c.Prefix[:], Member: revokerID, MetaMessage: "dispersy-revoke", GlobalTime: pkt.GlobalTime, Packet: raw}
	rowID, err := c.store.InsertRow(row)
	if err != nil {
		c.log.WithError(err).Debug("failed to store revoke row")
		return
	}
	err = c.timeline.ApplyRevoke(timeline.RevokeEvent{
		Meta: grant.Meta, Grantee: granteeID, Actions: grant.Actions,
		RevokedBy: revokerID, GlobalTime: pkt.GlobalTime, ProofRowID: rowID,
	})
	if err != nil {
		c.log.WithError(err).Warn("revoke rejected by timeline")
		_ = c.store.DeleteRow(rowID)
		return
	}
	c.advanceGlobalTime(pkt.GlobalTime)
}

// handleDynamicSettings applies an incoming resolution-policy change
// and cascades it over already-stored messages (spec.md §4.8).
func (c *Community) handleDynamicSettings(raw []byte, pkt *wire.Packet) {
	changerID, payload, ok := c.admitControlPacket(raw, pkt, "dispersy-dynamic-settings")
	if !ok {
		return
	}
	settings, err := decodeDynamicSettingsPayload(payload)
	if err != nil {
		c.log.WithError(err).Debug("malformed dynamic-settings payload")
		return
	}
	row := &store.Row{Community: c.Prefix[:], Member: changerID, MetaMessage: "dispersy-dynamic-settings", GlobalTime: pkt.GlobalTime, Packet: raw}
	rowID, err := c.store.InsertRow(row)
	if err != nil {
		c.log.WithError(err).Debug("failed to store dynamic-settings row")
		return
	}
	err = c.timeline.ApplyDynamicSettings(timeline.DynamicSettingsEvent{
		Meta: settings.Meta, Resolution: settings.Resolution,
		ChangedBy: changerID, GlobalTime: pkt.GlobalTime, ProofRowID: rowID,
	})
	if err != nil {
		c.log.WithError(err).Warn("dynamic-settings rejected by timeline")
		_ = c.store.DeleteRow(rowID)
		return
	}
	c.advanceGlobalTime(pkt.GlobalTime)
	result, err := c.undoEngine.CascadeDynamicSettings(c.Prefix[:], settings.Meta, pkt.GlobalTime, rowID)
	if err != nil {
		c.log.WithError(err).Warn("dynamic-settings cascade failed")
		return
	}
	c.log.WithFields(logrus.Fields{
		"meta": settings.Meta, "marked_undone": result.MarkedUndone, "cleared": result.Cleared,
	}).Debug("dynamic-settings cascade complete")
}

// handleUndo applies an incoming dispersy-undo packet against its
// named target (spec.md §4.8). If the target is unknown locally, a
// missing-message request is issued to from and the undo is dropped; it
// is neither stored nor re-applied when the target later arrives.
func (c *Community) handleUndo(raw []byte, pkt *wire.Packet, from endpoint.Candidate) {
	undoerID, payload, ok := c.admitControlPacket(raw, pkt, "dispersy-undo")
	if !ok {
		return
	}
	u, err := decodeUndoPayload(payload)
	if err != nil {
		c.log.WithError(err).Debug("malformed undo payload")
		return
	}
	targetMemberID, err := c.store.UpsertMember(u.TargetMemberPub)
	if err != nil {
		c.log.WithError(err).Warn("failed to register undo target's author")
		return
	}
	target, err := c.store.Fetch(c.Prefix[:], targetMemberID, u.TargetGlobalTime)
	if err != nil {
		c.log.WithFields(logrus.Fields{"from": from.String()}).Debug("undo target unknown locally, requesting it")
		c.sendMissingMessageRequest(u.TargetMemberPub, u.TargetGlobalTime, from)
		return
	}
	undoRow := &store.Row{Community: c.Prefix[:], Member: undoerID, MetaMessage: "dispersy-undo", GlobalTime: pkt.GlobalTime, Packet: raw}
	outcome, err := c.undoEngine.Apply(c.Prefix[:], undoRow, target.ID)
	if err != nil {
		c.log.WithError(err).Debug("undo not applied")
		return
	}
	c.advanceGlobalTime(pkt.GlobalTime)
	c.log.WithFields(logrus.Fields{
		"target": target.ID, "applied": outcome.Applied, "duplicate": outcome.Duplicate,
		"malicious": outcome.Malicious,
	}).Debug("undo processed")
}

// admitControlPacket runs the dedup+verify steps spec.md §4.5 performs
// for ordinary meta-messages, for the handful of control messages this
// package handles outside the batch accumulator. It returns the
// author's member id and the packet's payload, or ok=false if the
// packet should be dropped.
func (c *Community) admitControlPacket(raw []byte, pkt *wire.Packet, metaName string) (authorID int64, payload []byte, ok bool) {
	authorID, err := c.store.UpsertMember(pkt.MemberA)
	if err != nil {
		c.log.WithError(err).Warn("failed to register control packet author")
		return 0, nil, false
	}
	if _, err := c.store.Fetch(c.Prefix[:], authorID, pkt.GlobalTime); err == nil {
		return 0, nil, false // duplicate
	}
	if err := verifyPacketSignature(pkt, raw, crypto.SignatureSize); err != nil {
		c.log.WithFields(logrus.Fields{"meta": metaName, "error": err}).Debug("control packet failed verification")
		return 0, nil, false
	}
	return authorID, pkt.Payload, true
}

func (c *Community) sendMissingMessageRequest(memberPub []byte, globalTime uint64, to endpoint.Candidate) {
	pkt := &wire.Packet{
		CommunityPrefix: c.Prefix,
		MetaMessageID:   metaIDMissingMessage,
		AuthType:        wire.NoAuthentication,
		GlobalTime:      c.NextGlobalTime(),
		DestType:        wire.CandidateDestination,
		Destination:     to.String(),
		Payload:         encodeMissingMessageRequest(memberPub, globalTime),
	}
	encoded, err := wire.Encode(pkt, crypto.SignatureSize)
	if err != nil {
		c.log.WithError(err).Warn("failed to encode missing-message request")
		return
	}
	if err := c.endpoint.Send(encoded, to); err != nil {
		c.log.WithError(err).Debug("failed to send missing-message request")
	}
}
