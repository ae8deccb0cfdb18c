package antientropy

import (
	"encoding/binary"
	"hash"
	"hash/fnv"

	"github.com/holiman/bloomfilter/v2"
)

// defaultBits and defaultK mirror the capacity Dispersy's own sync
// filter budgets for a single introduction request: enough to hold a
// few thousand packet hashes at a low false-positive rate.
const (
	defaultBits = 1 << 16
	defaultK    = 8
)

// SyncFilter is the wire-level summary a requester attaches to an
// introduction request: "I already have everything at or after
// LowGlobalTime whose (global_time+Offset) mod Modulo == 0 and whose
// hash is in Bloom" (spec.md §4.7).
type SyncFilter struct {
	LowGlobalTime uint64
	Modulo        uint64
	Offset        uint64
	Bloom         *bloomfilter.Filter
}

// NewSyncFilter allocates an empty filter over the given modulo/offset
// sampling window, sized for roughly capacityHint packets.
func NewSyncFilter(low, modulo, offset uint64, capacityHint int) (*SyncFilter, error) {
	if modulo == 0 {
		modulo = 1
	}
	bits := uint64(defaultBits)
	if capacityHint > 0 {
		// Scale to keep ~8 bits/element, rounded up to a power of two
		// the way bloomfilter.New expects its m parameter.
		want := uint64(capacityHint) * 8
		bits = 1
		for bits < want {
			bits <<= 1
		}
	}
	bloom, err := bloomfilter.New(bits, defaultK)
	if err != nil {
		return nil, err
	}
	return &SyncFilter{LowGlobalTime: low, Modulo: modulo, Offset: offset, Bloom: bloom}, nil
}

func hashOf(packet []byte) hash.Hash64 {
	h := fnv.New64a()
	_, _ = h.Write(packet)
	return h
}

// Add marks packet as already held by the filter's owner.
func (f *SyncFilter) Add(packet []byte) {
	f.Bloom.Add(hashOf(packet))
}

// Contains reports whether packet is (probably) already held.
func (f *SyncFilter) Contains(packet []byte) bool {
	return f.Bloom.Contains(hashOf(packet))
}

// Samples reports whether globalTime falls in this filter's
// modulo/offset sampling window, per spec.md §4.7.
func (f *SyncFilter) Samples(globalTime uint64) bool {
	return (globalTime+f.Offset)%f.Modulo == 0
}

// Matches reports whether a candidate row at globalTime with the given
// packet bytes is missing from the filter's owner and should be sent.
func (f *SyncFilter) Matches(globalTime uint64, packet []byte) bool {
	if globalTime < f.LowGlobalTime {
		return false
	}
	if !f.Samples(globalTime) {
		return false
	}
	return !f.Contains(packet)
}

// MarshalBinary produces the on-the-wire encoding: low_global_time, modulo,
// offset as fixed big-endian uint64s, then the bloom filter's own
// marshaled form length-prefixed.
func (f *SyncFilter) MarshalBinary() ([]byte, error) {
	bloomBytes, err := f.Bloom.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 24+4+len(bloomBytes))
	binary.BigEndian.PutUint64(out[0:8], f.LowGlobalTime)
	binary.BigEndian.PutUint64(out[8:16], f.Modulo)
	binary.BigEndian.PutUint64(out[16:24], f.Offset)
	binary.BigEndian.PutUint32(out[24:28], uint32(len(bloomBytes)))
	copy(out[28:], bloomBytes)
	return out, nil
}

func UnmarshalSyncFilter(data []byte) (*SyncFilter, error) {
	if len(data) < 28 {
		return nil, ErrFilterExhausted
	}
	low := binary.BigEndian.Uint64(data[0:8])
	modulo := binary.BigEndian.Uint64(data[8:16])
	offset := binary.BigEndian.Uint64(data[16:24])
	n := binary.BigEndian.Uint32(data[24:28])
	if len(data[28:]) < int(n) {
		return nil, ErrFilterExhausted
	}
	bloom := &bloomfilter.Filter{}
	if err := bloom.UnmarshalBinary(data[28 : 28+int(n)]); err != nil {
		return nil, err
	}
	return &SyncFilter{LowGlobalTime: low, Modulo: modulo, Offset: offset, Bloom: bloom}, nil
}
