package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dispersy-go/timeline"
)

func alwaysAccept(memberID int64, meta string, action timeline.Action, globalTime uint64) (timeline.Decision, *timeline.ProofRequest) {
	return timeline.Accept, nil
}

func newTestAccumulator(exists ExistsFunc, verify VerifyFunc, check CheckFunc) *Accumulator {
	if exists == nil {
		exists = func(p *IncomingPacket) bool { return false }
	}
	if verify == nil {
		verify = func(p *IncomingPacket) error { return nil }
	}
	if check == nil {
		check = alwaysAccept
	}
	return NewAccumulator(exists, verify, check)
}

func TestAddRejectsUnconfiguredMeta(t *testing.T) {
	a := newTestAccumulator(nil, nil, nil)
	err := a.Add(&IncomingPacket{Meta: "text"})
	assert.ErrorIs(t, err, ErrUnknownMeta)
}

func TestFlushCollapsesByteIdenticalPackets(t *testing.T) {
	a := newTestAccumulator(nil, nil, nil)
	a.Configure("text", Config{MaxWindow: time.Minute, MaxSize: 10})

	raw := []byte("identical-packet")
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: raw, MemberID: 1, GlobalTime: 10, Arrived: time.Unix(0, 0)}))
	}

	result, err := a.Flush("text")
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 1)
	assert.Len(t, result.Dropped, 2)
	for _, d := range result.Dropped {
		assert.Equal(t, DropDuplicateInBatch, d.Reason)
	}
}

func TestFlushDropsStoreDuplicatesBeforeVerification(t *testing.T) {
	verifyCalls := 0
	exists := func(p *IncomingPacket) bool { return p.GlobalTime == 5 }
	verify := func(p *IncomingPacket) error { verifyCalls++; return nil }

	a := newTestAccumulator(exists, verify, nil)
	a.Configure("text", Config{MaxWindow: time.Minute, MaxSize: 10})

	require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: []byte("a"), MemberID: 1, GlobalTime: 5, Arrived: time.Unix(0, 0)}))
	require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: []byte("b"), MemberID: 1, GlobalTime: 6, Arrived: time.Unix(0, 0)}))

	result, err := a.Flush("text")
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 1)
	assert.Len(t, result.Dropped, 1)
	assert.Equal(t, DropDuplicateInStore, result.Dropped[0].Reason)
	assert.Equal(t, 1, verifyCalls)
}

func TestFlushDropsInvalidSignatures(t *testing.T) {
	verify := func(p *IncomingPacket) error {
		if p.GlobalTime == 7 {
			return assert.AnError
		}
		return nil
	}
	a := newTestAccumulator(nil, verify, nil)
	a.Configure("text", Config{MaxWindow: time.Minute, MaxSize: 10})

	require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: []byte("a"), MemberID: 1, GlobalTime: 7, Arrived: time.Unix(0, 0)}))

	result, err := a.Flush("text")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, DropInvalidSignature, result.Dropped[0].Reason)
}

func TestFlushDelaysOnMissingProof(t *testing.T) {
	check := func(memberID int64, meta string, action timeline.Action, globalTime uint64) (timeline.Decision, *timeline.ProofRequest) {
		return timeline.DelayByProof, &timeline.ProofRequest{Member: memberID, Meta: meta, Action: action, GlobalTime: globalTime}
	}
	a := newTestAccumulator(nil, nil, check)
	a.Configure("text", Config{MaxWindow: time.Minute, MaxSize: 10})

	require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: []byte("a"), MemberID: 1, GlobalTime: 7, Arrived: time.Unix(0, 0)}))

	result, err := a.Flush("text")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Delayed, 1)
	assert.Equal(t, int64(1), result.Delayed[0].Member)
}

func TestCrossBatchDedupViaExists(t *testing.T) {
	stored := make(map[uint64]bool)
	exists := func(p *IncomingPacket) bool { return stored[p.GlobalTime] }

	a := newTestAccumulator(exists, nil, nil)
	a.Configure("text", Config{MaxWindow: time.Minute, MaxSize: 10})

	require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: []byte("a"), MemberID: 1, GlobalTime: 9, Arrived: time.Unix(0, 0)}))
	result, err := a.Flush("text")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	stored[9] = true // simulate the accepted packet having been stored

	require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: []byte("a-again"), MemberID: 1, GlobalTime: 9, Arrived: time.Unix(0, 0)}))
	result, err = a.Flush("text")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, DropDuplicateInStore, result.Dropped[0].Reason)
}

func TestDueByMaxSize(t *testing.T) {
	a := newTestAccumulator(nil, nil, nil)
	a.Configure("text", Config{MaxWindow: time.Hour, MaxSize: 2})
	now := time.Unix(1000, 0)

	require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: []byte("a"), Arrived: now}))
	assert.Empty(t, a.Due(now))

	require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: []byte("b"), Arrived: now}))
	assert.Equal(t, []string{"text"}, a.Due(now))
}

func TestDueByMaxWindow(t *testing.T) {
	a := newTestAccumulator(nil, nil, nil)
	a.Configure("text", Config{MaxWindow: time.Second, MaxSize: 100})
	arrival := time.Unix(1000, 0)

	require.NoError(t, a.Add(&IncomingPacket{Meta: "text", Raw: []byte("a"), Arrived: arrival}))
	assert.Empty(t, a.Due(arrival))
	assert.Equal(t, []string{"text"}, a.Due(arrival.Add(2*time.Second)))
}
