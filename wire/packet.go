package wire

import (
	"encoding/binary"
)

// Encode serializes p deterministically. sigLen is the signature length
// for p.AuthType's security level (see crypto.SignatureLength); it
// determines how much trailing space is reserved for signatures that
// have not been produced yet (e.g. a double-member request-for-signature
// packet, whose sigA is still all-zero).
func Encode(p *Packet, sigLen int) ([]byte, error) {
	buf := make([]byte, 0, 128+len(p.Payload))

	buf = append(buf, p.CommunityPrefix[:]...)
	buf = appendUint16(buf, p.MetaMessageID)
	buf = append(buf, byte(p.AuthType))

	switch p.AuthType {
	case NoAuthentication:
	case MemberAuthentication:
		buf = appendLengthPrefixed(buf, p.MemberA)
	case DoubleMemberAuthentication:
		buf = appendLengthPrefixed(buf, p.MemberA)
		buf = appendLengthPrefixed(buf, p.MemberB)
	default:
		return nil, ErrUnknownAuthType
	}

	buf = appendUint64(buf, p.GlobalTime)
	seqFlag := byte(0)
	if p.HasSequence {
		seqFlag = 1
	}
	buf = append(buf, seqFlag)
	if p.HasSequence {
		buf = appendUint32(buf, p.Sequence)
	}

	buf = append(buf, byte(p.DestType))
	switch p.DestType {
	case CommunityDestination:
	case CandidateDestination:
		buf = appendLengthPrefixed(buf, []byte(p.Destination))
	default:
		return nil, ErrUnknownDestinationType
	}

	buf = appendUint32(buf, uint32(len(p.Payload)))
	buf = append(buf, p.Payload...)

	switch p.AuthType {
	case MemberAuthentication:
		buf = append(buf, padOrTruncate(p.SigA, sigLen)...)
	case DoubleMemberAuthentication:
		buf = append(buf, padOrTruncate(p.SigB, sigLen)...)
		buf = append(buf, padOrTruncate(p.SigA, sigLen)...)
	}

	return buf, nil
}

// Decode parses data into a Packet. sigLen is the signature length the
// caller expects for this packet's authentication type (see
// crypto.SignatureLength). The package has no separate header-only
// decoder, so sigLen must be chosen before calling Decode.
func Decode(data []byte, sigLen int) (*Packet, error) {
	if err := ValidatePacketSize(data); err != nil {
		return nil, err
	}
	p := &Packet{}
	r := &reader{buf: data}

	if !r.take(CommunityPrefixSize, &p.CommunityPrefix) {
		return nil, ErrMalformedPacket
	}

	metaID, ok := r.uint16()
	if !ok {
		return nil, ErrMalformedPacket
	}
	p.MetaMessageID = metaID

	authByte, ok := r.byte_()
	if !ok {
		return nil, ErrMalformedPacket
	}
	p.AuthType = AuthenticationType(authByte)

	switch p.AuthType {
	case NoAuthentication:
	case MemberAuthentication:
		mem, ok := r.lengthPrefixed()
		if !ok {
			return nil, ErrMalformedPacket
		}
		p.MemberA = mem
	case DoubleMemberAuthentication:
		memA, ok := r.lengthPrefixed()
		if !ok {
			return nil, ErrMalformedPacket
		}
		memB, ok := r.lengthPrefixed()
		if !ok {
			return nil, ErrMalformedPacket
		}
		p.MemberA, p.MemberB = memA, memB
	default:
		return nil, ErrUnknownAuthType
	}

	gt, ok := r.uint64()
	if !ok {
		return nil, ErrMalformedPacket
	}
	p.GlobalTime = gt

	seqFlag, ok := r.byte_()
	if !ok {
		return nil, ErrMalformedPacket
	}
	if seqFlag == 1 {
		seq, ok := r.uint32()
		if !ok {
			return nil, ErrMalformedPacket
		}
		p.Sequence = seq
		p.HasSequence = true
	}

	destByte, ok := r.byte_()
	if !ok {
		return nil, ErrMalformedPacket
	}
	p.DestType = DestinationType(destByte)
	switch p.DestType {
	case CommunityDestination:
	case CandidateDestination:
		dest, ok := r.lengthPrefixed()
		if !ok {
			return nil, ErrMalformedPacket
		}
		p.Destination = string(dest)
	default:
		return nil, ErrUnknownDestinationType
	}

	payloadLen, ok := r.uint32()
	if !ok || payloadLen > MaxPayloadSize {
		return nil, ErrMalformedPacket
	}
	payload, ok := r.bytes(int(payloadLen))
	if !ok {
		return nil, ErrMalformedPacket
	}
	p.Payload = payload

	switch p.AuthType {
	case MemberAuthentication:
		sig, ok := r.bytes(sigLen)
		if !ok {
			return nil, ErrMalformedPacket
		}
		p.SigA = sig
	case DoubleMemberAuthentication:
		sigB, ok := r.bytes(sigLen)
		if !ok {
			return nil, ErrMalformedPacket
		}
		sigA, ok := r.bytes(sigLen)
		if !ok {
			return nil, ErrMalformedPacket
		}
		p.SigB, p.SigA = sigB, sigA
	}

	return p, nil
}

// SignedRegionSingle returns the signed region of a MemberAuthentication
// packet: everything except the trailing signature.
func SignedRegionSingle(encoded []byte, sigLen int) []byte {
	return encoded[:len(encoded)-sigLen]
}

// SignedRegionSigB returns the signed region for the co-signer's
// signature in a DoubleMemberAuthentication packet: everything except
// both trailing signature slots.
func SignedRegionSigB(encoded []byte, sigLen int) []byte {
	return encoded[:len(encoded)-2*sigLen]
}

// SignedRegionSigA returns the signed region for the first signer's
// closing signature in a DoubleMemberAuthentication packet: everything
// except sigA itself, i.e. including sigB.
func SignedRegionSigA(encoded []byte, sigLen int) []byte {
	return encoded[:len(encoded)-sigLen]
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLengthPrefixed(buf []byte, data []byte) []byte {
	buf = appendUint16(buf, uint16(len(data)))
	return append(buf, data...)
}

func padOrTruncate(sig []byte, sigLen int) []byte {
	out := make([]byte, sigLen)
	copy(out, sig)
	return out
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte_() (byte, bool) {
	if r.pos+1 > len(r.buf) {
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

func (r *reader) uint16() (uint16, bool) {
	if r.pos+2 > len(r.buf) {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, true
}

func (r *reader) uint32() (uint32, bool) {
	if r.pos+4 > len(r.buf) {
		return 0, false
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, true
}

func (r *reader) uint64() (uint64, bool) {
	if r.pos+8 > len(r.buf) {
		return 0, false
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, true
}

func (r *reader) bytes(n int) ([]byte, bool) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, true
}

func (r *reader) lengthPrefixed() ([]byte, bool) {
	n, ok := r.uint16()
	if !ok {
		return nil, false
	}
	return r.bytes(int(n))
}

func (r *reader) take(n int, dst *[CommunityPrefixSize]byte) bool {
	b, ok := r.bytes(n)
	if !ok {
		return false
	}
	copy(dst[:], b)
	return true
}
