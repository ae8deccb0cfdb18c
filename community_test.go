package dispersy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dispersy-go/batch"
	"github.com/opd-ai/dispersy-go/crypto"
	"github.com/opd-ai/dispersy-go/endpoint"
	"github.com/opd-ai/dispersy-go/store"
	"github.com/opd-ai/dispersy-go/timeline"
)

func newTestCommunity(t *testing.T, ep endpoint.Endpoint, master [32]byte, kp *crypto.KeyPair) *Community {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	c, err := NewCommunity(s, ep, master, kp, "test-classification")
	require.NoError(t, err)
	return c
}

func fastBatch() batch.Config {
	return batch.Config{MaxWindow: time.Hour, MaxSize: 1}
}

// eventuallyFlush polls c's accumulator and flushes it every tick until
// cond is satisfied or the deadline passes, matching how a real Context
// drains a community between Iterate ticks.
func eventuallyFlush(t *testing.T, c *Community, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		_ = c.flushDue(time.Now().Add(2 * time.Hour))
		return cond()
	}, time.Second, 5*time.Millisecond)
}

func TestPostAppliesFullSyncAndBroadcasts(t *testing.T) {
	epA := endpoint.NewSimulatedEndpointAt(endpoint.Candidate{Port: 1})
	epB := endpoint.NewSimulatedEndpointAt(endpoint.Candidate{Port: 2})
	epA.Connect(epB)

	master, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)
	kpA, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)
	kpB, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)

	a := newTestCommunity(t, epA, master.Public, kpA)
	b := newTestCommunity(t, epB, master.Public, kpB)

	received := make(chan *Message, 1)
	meta := MetaMessage{
		Name:         "demo-text",
		Distribution: DistributionFullSync,
		Destination:  DestinationCommunity,
		Resolution:   timeline.ResolutionPublic,
		Batch:        fastBatch(),
		Action:       timeline.Permit,
		Handler:      func(m *Message) { received <- m },
	}
	a.DefineMeta(meta)
	b.DefineMeta(meta)
	a.candidates.Add(epB.LocalCandidate())

	msg, err := a.Post("demo-text", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "demo-text", msg.Meta)

	eventuallyFlush(t, b, func() bool {
		rows, err := b.store.FetchSince(b.Prefix[:], 0)
		return err == nil && len(rows) == 1
	})

	select {
	case got := <-received:
		require.Equal(t, []byte("hello"), got.Payload)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}

	rows, err := b.store.FetchSince(b.Prefix[:], 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestPostDeniedWithoutPermission(t *testing.T) {
	master, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)
	other, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)

	a := newTestCommunity(t, nil, master.Public, other)
	a.DefineMeta(MetaMessage{
		Name:         "restricted",
		Distribution: DistributionFullSync,
		Resolution:   timeline.ResolutionLinear,
		Batch:        fastBatch(),
		Action:       timeline.Permit,
	})

	_, err = a.Post("restricted", []byte("x"))
	require.ErrorIs(t, err, timeline.ErrPermissionDenied)
}

func TestAuthorizeGrantsPermission(t *testing.T) {
	master, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)
	node, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)

	a := newTestCommunity(t, nil, master.Public, master)
	a.DefineMeta(MetaMessage{
		Name:         "restricted",
		Distribution: DistributionFullSync,
		Resolution:   timeline.ResolutionLinear,
		Batch:        fastBatch(),
		Action:       timeline.Permit,
	})

	require.NoError(t, a.Authorize(node.Public, "restricted", []timeline.Action{timeline.Permit}))

	nodeID, err := a.store.LookupMember(node.Public[:])
	require.NoError(t, err)
	require.True(t, a.timeline.HasPermission(nodeID, "restricted", timeline.Permit, a.globalTime+1))
}

func TestUndoMarksTargetRow(t *testing.T) {
	master, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)

	a := newTestCommunity(t, nil, master.Public, master)
	a.DefineMeta(MetaMessage{
		Name:         "demo-text",
		Distribution: DistributionFullSync,
		Resolution:   timeline.ResolutionPublic,
		Batch:        fastBatch(),
		Action:       timeline.Permit,
	})

	msg, err := a.Post("demo-text", []byte("hello"))
	require.NoError(t, err)

	target, err := a.store.Fetch(a.Prefix[:], a.MyMemberID, msg.GlobalTime)
	require.NoError(t, err)
	require.False(t, target.IsUndone())

	_, err = a.Undo(target)
	require.NoError(t, err)

	target, err = a.store.FetchByID(target.ID)
	require.NoError(t, err)
	require.True(t, target.IsUndone())
}

func TestNewCommunityPersistsClassification(t *testing.T) {
	master, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)

	a := newTestCommunity(t, nil, master.Public, master)
	require.Equal(t, "test-classification", a.Classification)
	require.True(t, a.AutoLoad)

	rec, err := a.store.GetCommunity(a.Prefix[:])
	require.NoError(t, err)
	require.Equal(t, "test-classification", rec.Classification)
}

func TestReclassifyChangesClassificationNotCID(t *testing.T) {
	master, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)

	a := newTestCommunity(t, nil, master.Public, master)
	prefix := a.Prefix

	require.NoError(t, a.Reclassify("renamed-classification"))
	require.Equal(t, "renamed-classification", a.Classification)
	require.Equal(t, prefix, a.Prefix)

	rec, err := a.store.GetCommunity(a.Prefix[:])
	require.NoError(t, err)
	require.Equal(t, "renamed-classification", rec.Classification)
}

func TestSetAutoLoadPersists(t *testing.T) {
	master, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)

	a := newTestCommunity(t, nil, master.Public, master)
	require.NoError(t, a.SetAutoLoad(false))
	require.False(t, a.AutoLoad)

	rec, err := a.store.GetCommunity(a.Prefix[:])
	require.NoError(t, err)
	require.False(t, rec.AutoLoad)
}

func TestUndoIsIdempotent(t *testing.T) {
	master, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	require.NoError(t, err)

	a := newTestCommunity(t, nil, master.Public, master)
	a.DefineMeta(MetaMessage{
		Name:         "demo-text",
		Distribution: DistributionFullSync,
		Resolution:   timeline.ResolutionPublic,
		Batch:        fastBatch(),
		Action:       timeline.Permit,
	})

	msg, err := a.Post("demo-text", []byte("hello"))
	require.NoError(t, err)
	target, err := a.store.Fetch(a.Prefix[:], a.MyMemberID, msg.GlobalTime)
	require.NoError(t, err)

	first, err := a.Undo(target)
	require.NoError(t, err)
	second, err := a.Undo(target)
	require.NoError(t, err)
	require.Equal(t, first.GlobalTime, second.GlobalTime)
}
