package dispersy

import (
	"encoding/binary"

	"github.com/opd-ai/dispersy-go/timeline"
	"github.com/opd-ai/dispersy-go/wire"
)

// Meta-message ids the core reserves for its own control traffic
// (spec.md §4.7, §4.8); application meta-messages registered via
// DefineMeta are assigned ids starting at metaIDFirstUserDefined.
const (
	metaIDIntroductionRequest uint16 = 1
	metaIDMissingMessage      uint16 = 2
	metaIDMissingSequence     uint16 = 3
	metaIDAuthorize           uint16 = 4
	metaIDRevoke              uint16 = 5
	metaIDDynamicSettings     uint16 = 6
	metaIDUndo                uint16 = 7

	metaIDFirstUserDefined uint16 = 16
)

func controlMetaName(id uint16) string {
	switch id {
	case metaIDIntroductionRequest:
		return "dispersy-introduction-request"
	case metaIDMissingMessage:
		return "dispersy-missing-message"
	case metaIDMissingSequence:
		return "dispersy-missing-sequence"
	case metaIDAuthorize:
		return "dispersy-authorize"
	case metaIDRevoke:
		return "dispersy-revoke"
	case metaIDDynamicSettings:
		return "dispersy-dynamic-settings"
	case metaIDUndo:
		return "dispersy-undo"
	default:
		return ""
	}
}

func appendLP(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(data)))
	return append(buf, data...)
}

func takeLP(buf []byte) (data, rest []byte, ok bool) {
	if len(buf) < 2 {
		return nil, nil, false
	}
	n := binary.BigEndian.Uint16(buf)
	buf = buf[2:]
	if len(buf) < int(n) {
		return nil, nil, false
	}
	return buf[:n], buf[n:], true
}

// encodeMissingMessageRequest/decodeMissingMessageRequest round-trip a
// request for one member's message at a given global_time: the
// member's public key (length-prefixed, since a local store row id
// means nothing to the peer resolving the request) ++ global_time(8).
func encodeMissingMessageRequest(memberPub []byte, globalTime uint64) []byte {
	buf := make([]byte, 0, 16+len(memberPub))
	buf = appendLP(buf, memberPub)
	buf = binary.BigEndian.AppendUint64(buf, globalTime)
	return buf
}

type missingMessageRequest struct {
	MemberPub  []byte
	GlobalTime uint64
}

func decodeMissingMessageRequest(payload []byte) (missingMessageRequest, error) {
	pub, rest, ok := takeLP(payload)
	if !ok || len(rest) < 8 {
		return missingMessageRequest{}, wire.ErrMalformedPacket
	}
	return missingMessageRequest{MemberPub: pub, GlobalTime: binary.BigEndian.Uint64(rest[0:8])}, nil
}

// encodeMissingSequenceRequest/decodeMissingSequenceRequest: member
// public key(length-prefixed) ++ meta(length-prefixed) ++ from(4) ++
// to(4).
func encodeMissingSequenceRequest(memberPub []byte, meta string, from, to uint32) []byte {
	buf := make([]byte, 0, 32+len(meta)+len(memberPub))
	buf = appendLP(buf, memberPub)
	buf = appendLP(buf, []byte(meta))
	buf = binary.BigEndian.AppendUint32(buf, from)
	buf = binary.BigEndian.AppendUint32(buf, to)
	return buf
}

type missingSequenceRequest struct {
	MemberPub []byte
	Meta      string
	From, To  uint32
}

func decodeMissingSequenceRequest(payload []byte) (missingSequenceRequest, error) {
	pub, rest, ok := takeLP(payload)
	if !ok {
		return missingSequenceRequest{}, wire.ErrMalformedPacket
	}
	metaBytes, rest, ok := takeLP(rest)
	if !ok || len(rest) < 8 {
		return missingSequenceRequest{}, wire.ErrMalformedPacket
	}
	from := binary.BigEndian.Uint32(rest[0:4])
	to := binary.BigEndian.Uint32(rest[4:8])
	return missingSequenceRequest{MemberPub: pub, Meta: string(metaBytes), From: from, To: to}, nil
}

// grantPayload is the wire shape shared by dispersy-authorize and
// dispersy-revoke: grantee's public key (length-prefixed, so the
// recipient can register the member on first sight) ++ meta
// (length-prefixed) ++ action count(1) ++ actions ++ (granter derived
// from the packet's own MemberA, not repeated here).
func encodeGrantPayload(granteePub []byte, meta string, actions []timeline.Action) []byte {
	buf := make([]byte, 0, 64+len(meta)+len(granteePub))
	buf = appendLP(buf, granteePub)
	buf = appendLP(buf, []byte(meta))
	buf = append(buf, byte(len(actions)))
	for _, a := range actions {
		buf = append(buf, byte(a))
	}
	return buf
}

type grantPayload struct {
	GranteePub []byte
	Meta       string
	Actions    []timeline.Action
}

func decodeGrantPayload(payload []byte) (grantPayload, error) {
	granteePub, rest, ok := takeLP(payload)
	if !ok {
		return grantPayload{}, wire.ErrMalformedPacket
	}
	metaBytes, rest, ok := takeLP(rest)
	if !ok || len(rest) < 1 {
		return grantPayload{}, wire.ErrMalformedPacket
	}
	n := int(rest[0])
	rest = rest[1:]
	if len(rest) < n {
		return grantPayload{}, wire.ErrMalformedPacket
	}
	actions := make([]timeline.Action, n)
	for i := 0; i < n; i++ {
		actions[i] = timeline.Action(rest[i])
	}
	return grantPayload{GranteePub: granteePub, Meta: string(metaBytes), Actions: actions}, nil
}

// dynamicSettingsPayload: meta(length-prefixed) ++ resolution(1).
func encodeDynamicSettingsPayload(meta string, resolution timeline.Resolution) []byte {
	buf := make([]byte, 0, 8+len(meta))
	buf = appendLP(buf, []byte(meta))
	buf = append(buf, byte(resolution))
	return buf
}

type dynamicSettingsPayload struct {
	Meta       string
	Resolution timeline.Resolution
}

func decodeDynamicSettingsPayload(payload []byte) (dynamicSettingsPayload, error) {
	metaBytes, rest, ok := takeLP(payload)
	if !ok || len(rest) < 1 {
		return dynamicSettingsPayload{}, wire.ErrMalformedPacket
	}
	return dynamicSettingsPayload{Meta: string(metaBytes), Resolution: timeline.Resolution(rest[0])}, nil
}

// undoPayload: target member public key (length-prefixed) ++ target
// global_time(8). The target is named by (public key, global_time)
// rather than a local store row id, since row ids are not portable
// across peers.
func encodeUndoPayload(targetMemberPub []byte, targetGlobalTime uint64) []byte {
	buf := make([]byte, 0, 16+len(targetMemberPub))
	buf = appendLP(buf, targetMemberPub)
	buf = binary.BigEndian.AppendUint64(buf, targetGlobalTime)
	return buf
}

type undoPayload struct {
	TargetMemberPub []byte
	TargetGlobalTime uint64
}

func decodeUndoPayload(payload []byte) (undoPayload, error) {
	pub, rest, ok := takeLP(payload)
	if !ok || len(rest) < 8 {
		return undoPayload{}, wire.ErrMalformedPacket
	}
	return undoPayload{TargetMemberPub: pub, TargetGlobalTime: binary.BigEndian.Uint64(rest[0:8])}, nil
}
