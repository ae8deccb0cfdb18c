package undo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dispersy-go/store"
	"github.com/opd-ai/dispersy-go/timeline"
)

const (
	masterID = int64(1)
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *timeline.Timeline) {
	t.Helper()
	s := openTestStore(t)
	tl := timeline.New(masterID)
	return New(s, tl), s, tl
}

func TestUndoOwnSucceedsWhenStillPermitted(t *testing.T) {
	e, s, _ := newTestEngine(t)
	community := []byte("c1")
	author, err := s.UpsertMember([]byte("author"))
	require.NoError(t, err)

	targetID, err := s.InsertRow(&store.Row{Community: community, Member: author, MetaMessage: "text", GlobalTime: 10, Packet: []byte("target")})
	require.NoError(t, err)

	undoRow := &store.Row{Community: community, Member: author, MetaMessage: "dispersy-undo-own", GlobalTime: 11, Packet: []byte("undo1")}
	outcome, err := e.Apply(community, undoRow, targetID)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	target, err := s.FetchByID(targetID)
	require.NoError(t, err)
	assert.True(t, target.IsUndone())
}

func TestUndoOtherRequiresUndoPermission(t *testing.T) {
	e, s, _ := newTestEngine(t)
	community := []byte("c1")
	author, err := s.UpsertMember([]byte("author"))
	require.NoError(t, err)
	stranger, err := s.UpsertMember([]byte("stranger"))
	require.NoError(t, err)

	targetID, err := s.InsertRow(&store.Row{Community: community, Member: author, MetaMessage: "text", GlobalTime: 10, Packet: []byte("target")})
	require.NoError(t, err)

	undoRow := &store.Row{Community: community, Member: stranger, MetaMessage: "dispersy-undo-other", GlobalTime: 11, Packet: []byte("undo1")}
	_, err = e.Apply(community, undoRow, targetID)
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestUndoOtherSucceedsWithGrantedPermission(t *testing.T) {
	e, s, tl := newTestEngine(t)
	community := []byte("c1")
	author, err := s.UpsertMember([]byte("author"))
	require.NoError(t, err)
	moderator, err := s.UpsertMember([]byte("moderator"))
	require.NoError(t, err)

	targetID, err := s.InsertRow(&store.Row{Community: community, Member: author, MetaMessage: "text", GlobalTime: 10, Packet: []byte("target")})
	require.NoError(t, err)

	require.NoError(t, tl.ApplyAuthorize(timeline.GrantEvent{
		Meta: "text", Grantee: moderator, Actions: []timeline.Action{timeline.Undo},
		GrantedBy: masterID, GlobalTime: 0, ProofRowID: 1,
	}))

	undoRow := &store.Row{Community: community, Member: moderator, MetaMessage: "dispersy-undo-other", GlobalTime: 11, Packet: []byte("undo1")}
	outcome, err := e.Apply(community, undoRow, targetID)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
}

func TestCreateUndoIsIdempotentLocally(t *testing.T) {
	e, s, _ := newTestEngine(t)
	community := []byte("c1")
	author, err := s.UpsertMember([]byte("author"))
	require.NoError(t, err)

	targetID, err := s.InsertRow(&store.Row{Community: community, Member: author, MetaMessage: "text", GlobalTime: 10, Packet: []byte("target")})
	require.NoError(t, err)

	_, alreadyExists, err := e.CreateUndo(targetID)
	require.NoError(t, err)
	assert.False(t, alreadyExists)

	undoRow := &store.Row{Community: community, Member: author, MetaMessage: "dispersy-undo-own", GlobalTime: 11, Packet: []byte("undo1")}
	_, err = e.Apply(community, undoRow, targetID)
	require.NoError(t, err)

	existing, alreadyExists, err := e.CreateUndo(targetID)
	require.NoError(t, err)
	assert.True(t, alreadyExists)
	assert.Equal(t, []byte("undo1"), existing.Packet)
}

func TestDuplicateUndoPacketIsIgnored(t *testing.T) {
	e, s, _ := newTestEngine(t)
	community := []byte("c1")
	author, err := s.UpsertMember([]byte("author"))
	require.NoError(t, err)

	targetID, err := s.InsertRow(&store.Row{Community: community, Member: author, MetaMessage: "text", GlobalTime: 10, Packet: []byte("target")})
	require.NoError(t, err)

	undoRow := &store.Row{Community: community, Member: author, MetaMessage: "dispersy-undo-own", GlobalTime: 11, Packet: []byte("undo1")}
	_, err = e.Apply(community, undoRow, targetID)
	require.NoError(t, err)

	// Same bytes arriving again (e.g. re-delivered over the network).
	dup := &store.Row{Community: community, Member: author, MetaMessage: "dispersy-undo-own", GlobalTime: 11, Packet: []byte("undo1")}
	outcome, err := e.Apply(community, dup, targetID)
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
}

func TestUndoByDifferentPartyOnAlreadyUndoneIsNotMalicious(t *testing.T) {
	e, s, tl := newTestEngine(t)
	community := []byte("c1")
	author, err := s.UpsertMember([]byte("author"))
	require.NoError(t, err)
	moderator, err := s.UpsertMember([]byte("moderator"))
	require.NoError(t, err)

	require.NoError(t, tl.ApplyAuthorize(timeline.GrantEvent{
		Meta: "text", Grantee: moderator, Actions: []timeline.Action{timeline.Undo},
		GrantedBy: masterID, GlobalTime: 0, ProofRowID: 1,
	}))

	targetID, err := s.InsertRow(&store.Row{Community: community, Member: author, MetaMessage: "text", GlobalTime: 10, Packet: []byte("target")})
	require.NoError(t, err)

	first := &store.Row{Community: community, Member: author, MetaMessage: "dispersy-undo-own", GlobalTime: 11, Packet: []byte("undo-by-author")}
	_, err = e.Apply(community, first, targetID)
	require.NoError(t, err)

	second := &store.Row{Community: community, Member: moderator, MetaMessage: "dispersy-undo-other", GlobalTime: 12, Packet: []byte("undo-by-moderator")}
	outcome, err := e.Apply(community, second, targetID)
	assert.ErrorIs(t, err, ErrAlreadyUndoneByOther)
	assert.True(t, outcome.AlreadyByOther)

	m, err := s.GetMember(author)
	require.NoError(t, err)
	assert.False(t, m.IsBlacklisted())
}

func TestDoubleUndoBySameAuthorIsMaliciousAndPurges(t *testing.T) {
	e, s, _ := newTestEngine(t)
	community := []byte("c1")
	author, err := s.UpsertMember([]byte("author"))
	require.NoError(t, err)

	targetID, err := s.InsertRow(&store.Row{Community: community, Member: author, MetaMessage: "text", GlobalTime: 10, Packet: []byte("target")})
	require.NoError(t, err)
	_, err = s.InsertRow(&store.Row{Community: community, Member: author, MetaMessage: "text", GlobalTime: 20, Packet: []byte("other-message")})
	require.NoError(t, err)

	first := &store.Row{Community: community, Member: author, MetaMessage: "dispersy-undo-own", GlobalTime: 11, Packet: []byte("undo-v1")}
	_, err = e.Apply(community, first, targetID)
	require.NoError(t, err)

	second := &store.Row{Community: community, Member: author, MetaMessage: "dispersy-undo-own", GlobalTime: 12, Packet: []byte("undo-v2")}
	outcome, err := e.Apply(community, second, targetID)

	var malErr *MaliciousDoubleUndo
	require.ErrorAs(t, err, &malErr)
	assert.True(t, outcome.Malicious)

	m, err := s.GetMember(author)
	require.NoError(t, err)
	assert.True(t, m.IsBlacklisted())

	proofs, err := s.MaliciousProof(community, author)
	require.NoError(t, err)
	assert.Len(t, proofs, 2)

	remaining, err := s.FetchByMember(community, author, "text")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestCascadeDynamicSettingsMarksUnauthorizedUndone(t *testing.T) {
	e, s, tl := newTestEngine(t)
	community := []byte("c1")
	permitted, err := s.UpsertMember([]byte("permitted"))
	require.NoError(t, err)
	stranger, err := s.UpsertMember([]byte("stranger"))
	require.NoError(t, err)

	row1, err := s.InsertRow(&store.Row{Community: community, Member: permitted, MetaMessage: "text", GlobalTime: 5, Packet: []byte("p1")})
	require.NoError(t, err)
	row2, err := s.InsertRow(&store.Row{Community: community, Member: stranger, MetaMessage: "text", GlobalTime: 6, Packet: []byte("p2")})
	require.NoError(t, err)

	require.NoError(t, tl.ApplyAuthorize(timeline.GrantEvent{
		Meta: "text", Grantee: permitted, Actions: []timeline.Action{timeline.Permit},
		GrantedBy: masterID, GlobalTime: 0, ProofRowID: 1,
	}))
	require.NoError(t, tl.ApplyDynamicSettings(timeline.DynamicSettingsEvent{
		Meta: "text", Resolution: timeline.ResolutionLinear, ChangedBy: masterID, GlobalTime: 100, ProofRowID: 99,
	}))

	result, err := e.CascadeDynamicSettings(community, "text", 100, 99)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MarkedUndone)

	r1, err := s.FetchByID(row1)
	require.NoError(t, err)
	assert.False(t, r1.IsUndone())

	r2, err := s.FetchByID(row2)
	require.NoError(t, err)
	assert.True(t, r2.IsUndone())
	assert.Equal(t, int64(99), r2.Undone)
}

func TestCascadeDynamicSettingsClearsOnPermissionRestored(t *testing.T) {
	e, s, tl := newTestEngine(t)
	community := []byte("c1")
	memberID, err := s.UpsertMember([]byte("someone"))
	require.NoError(t, err)

	rowID, err := s.InsertRow(&store.Row{Community: community, Member: memberID, MetaMessage: "text", GlobalTime: 5, Packet: []byte("p1")})
	require.NoError(t, err)

	require.NoError(t, tl.ApplyDynamicSettings(timeline.DynamicSettingsEvent{
		Meta: "text", Resolution: timeline.ResolutionLinear, ChangedBy: masterID, GlobalTime: 100, ProofRowID: 99,
	}))
	result, err := e.CascadeDynamicSettings(community, "text", 100, 99)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MarkedUndone)

	require.NoError(t, tl.ApplyAuthorize(timeline.GrantEvent{
		Meta: "text", Grantee: memberID, Actions: []timeline.Action{timeline.Permit},
		GrantedBy: masterID, GlobalTime: 0, ProofRowID: 1,
	}))
	require.NoError(t, tl.ApplyDynamicSettings(timeline.DynamicSettingsEvent{
		Meta: "text", Resolution: timeline.ResolutionPublic, ChangedBy: masterID, GlobalTime: 200, ProofRowID: 150,
	}))

	result2, err := e.CascadeDynamicSettings(community, "text", 300, 99)
	require.NoError(t, err)
	assert.Equal(t, 1, result2.Cleared)

	r, err := s.FetchByID(rowID)
	require.NoError(t, err)
	assert.False(t, r.IsUndone())
}
