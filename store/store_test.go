package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertMemberIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	key := []byte("a public key")

	id1, err := s.UpsertMember(key)
	require.NoError(t, err)
	id2, err := s.UpsertMember(key)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestLookupMemberNotFoundBeforeUpsert(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LookupMember([]byte("never seen"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupMemberFindsUpserted(t *testing.T) {
	s := openTestStore(t)
	key := []byte("a public key")
	id, err := s.UpsertMember(key)
	require.NoError(t, err)

	got, err := s.LookupMember(key)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestInsertRowRejectsDuplicate(t *testing.T) {
	s := openTestStore(t)
	memberID, err := s.UpsertMember([]byte("member-a"))
	require.NoError(t, err)

	r := &Row{Community: []byte("community-1"), Member: memberID, MetaMessage: "text", GlobalTime: 10, Packet: []byte("p1")}
	_, err = s.InsertRow(r)
	require.NoError(t, err)

	_, err = s.InsertRow(&Row{Community: []byte("community-1"), Member: memberID, MetaMessage: "text", GlobalTime: 10, Packet: []byte("p2")})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestFetchReturnsInsertedRow(t *testing.T) {
	s := openTestStore(t)
	memberID, err := s.UpsertMember([]byte("member-a"))
	require.NoError(t, err)

	_, err = s.InsertRow(&Row{Community: []byte("c1"), Member: memberID, MetaMessage: "text", GlobalTime: 5, Packet: []byte("payload")})
	require.NoError(t, err)

	row, err := s.Fetch([]byte("c1"), memberID, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), row.Packet)
	assert.False(t, row.IsUndone())
}

func TestFetchMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Fetch([]byte("c1"), 999, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkAndClearUndone(t *testing.T) {
	s := openTestStore(t)
	memberID, err := s.UpsertMember([]byte("member-a"))
	require.NoError(t, err)

	id, err := s.InsertRow(&Row{Community: []byte("c1"), Member: memberID, MetaMessage: "text", GlobalTime: 1, Packet: []byte("p")})
	require.NoError(t, err)

	require.NoError(t, s.MarkUndone(id, 42))
	row, err := s.FetchByID(id)
	require.NoError(t, err)
	assert.True(t, row.IsUndone())
	assert.Equal(t, int64(42), row.Undone)

	require.NoError(t, s.ClearUndone(id))
	row, err = s.FetchByID(id)
	require.NoError(t, err)
	assert.False(t, row.IsUndone())
}

func TestDeleteWherePurgesMemberRows(t *testing.T) {
	s := openTestStore(t)
	memberID, err := s.UpsertMember([]byte("member-a"))
	require.NoError(t, err)
	other, err := s.UpsertMember([]byte("member-b"))
	require.NoError(t, err)

	_, err = s.InsertRow(&Row{Community: []byte("c1"), Member: memberID, MetaMessage: "text", GlobalTime: 1, Packet: []byte("p1")})
	require.NoError(t, err)
	_, err = s.InsertRow(&Row{Community: []byte("c1"), Member: memberID, MetaMessage: "text", GlobalTime: 2, Packet: []byte("p2")})
	require.NoError(t, err)
	_, err = s.InsertRow(&Row{Community: []byte("c1"), Member: other, MetaMessage: "text", GlobalTime: 3, Packet: []byte("p3")})
	require.NoError(t, err)

	n, err := s.DeleteWhere([]byte("c1"), memberID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := s.FetchSince([]byte("c1"), 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestFetchSinceOrdersAscending(t *testing.T) {
	s := openTestStore(t)
	memberID, err := s.UpsertMember([]byte("member-a"))
	require.NoError(t, err)

	for _, gt := range []uint64{30, 10, 20} {
		_, err := s.InsertRow(&Row{Community: []byte("c1"), Member: memberID, MetaMessage: "text", GlobalTime: gt, Packet: []byte("p")})
		require.NoError(t, err)
	}

	rows, err := s.FetchSince([]byte("c1"), 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []uint64{10, 20, 30}, []uint64{rows[0].GlobalTime, rows[1].GlobalTime, rows[2].GlobalTime})
}

func TestDoubleSignedReferenceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	m1, err := s.UpsertMember([]byte("member-a"))
	require.NoError(t, err)
	m2, err := s.UpsertMember([]byte("member-b"))
	require.NoError(t, err)

	id, err := s.InsertRow(&Row{Community: []byte("c1"), Member: m1, MetaMessage: "double", GlobalTime: 1, Packet: []byte("p")})
	require.NoError(t, err)
	require.NoError(t, s.InsertDoubleSignedRef(id, m1, m2))

	got1, got2, err := s.DoubleSignedMembers(id)
	require.NoError(t, err)
	assert.Equal(t, m1, got1)
	assert.Equal(t, m2, got2)

	rows, err := s.FetchByCombination([]byte("c1"), "double", m1, m2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
}

func TestMaliciousProofRoundTrip(t *testing.T) {
	s := openTestStore(t)
	memberID, err := s.UpsertMember([]byte("member-a"))
	require.NoError(t, err)

	require.NoError(t, s.InsertMaliciousProof([]byte("c1"), memberID, []byte("undo1")))
	require.NoError(t, s.InsertMaliciousProof([]byte("c1"), memberID, []byte("undo2")))

	proofs, err := s.MaliciousProof([]byte("c1"), memberID)
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]byte{[]byte("undo1"), []byte("undo2")}, proofs)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	memberID, err := s.UpsertMember([]byte("member-a"))
	require.NoError(t, err)

	txErr := s.WithTx(func(tx *Tx) error {
		_, err := tx.InsertRow(&Row{Community: []byte("c1"), Member: memberID, MetaMessage: "text", GlobalTime: 1, Packet: []byte("p")})
		if err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, txErr)

	_, err = s.Fetch([]byte("c1"), memberID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterCommunityIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	master, err := s.UpsertMember([]byte("master"))
	require.NoError(t, err)
	mine, err := s.UpsertMember([]byte("mine"))
	require.NoError(t, err)

	require.NoError(t, s.RegisterCommunity([]byte("cid-1"), master, mine, "chat"))
	require.NoError(t, s.RegisterCommunity([]byte("cid-1"), master, mine, "chat"))

	rec, err := s.GetCommunity([]byte("cid-1"))
	require.NoError(t, err)
	assert.Equal(t, "chat", rec.Classification)
	assert.True(t, rec.AutoLoad)
	assert.Equal(t, master, rec.MasterMember)
}

func TestRegisterCommunityLeavesClassificationOnReopen(t *testing.T) {
	s := openTestStore(t)
	master, err := s.UpsertMember([]byte("master"))
	require.NoError(t, err)
	mine, err := s.UpsertMember([]byte("mine"))
	require.NoError(t, err)

	require.NoError(t, s.RegisterCommunity([]byte("cid-1"), master, mine, "chat"))
	require.NoError(t, s.ReclassifyCommunity([]byte("cid-1"), "forum"))
	require.NoError(t, s.RegisterCommunity([]byte("cid-1"), master, mine, "chat"))

	rec, err := s.GetCommunity([]byte("cid-1"))
	require.NoError(t, err)
	assert.Equal(t, "forum", rec.Classification)
}

func TestGetCommunityMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetCommunity([]byte("never-seen"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReclassifyCommunityMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	assert.ErrorIs(t, s.ReclassifyCommunity([]byte("missing"), "new"), ErrNotFound)
}

func TestSetCommunityAutoLoad(t *testing.T) {
	s := openTestStore(t)
	master, err := s.UpsertMember([]byte("master"))
	require.NoError(t, err)
	mine, err := s.UpsertMember([]byte("mine"))
	require.NoError(t, err)
	require.NoError(t, s.RegisterCommunity([]byte("cid-1"), master, mine, "chat"))

	require.NoError(t, s.SetCommunityAutoLoad([]byte("cid-1"), false))
	rec, err := s.GetCommunity([]byte("cid-1"))
	require.NoError(t, err)
	assert.False(t, rec.AutoLoad)

	found, err := s.CommunitiesByClassification("chat")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestCommunitiesByClassificationFiltersAutoLoad(t *testing.T) {
	s := openTestStore(t)
	master, err := s.UpsertMember([]byte("master"))
	require.NoError(t, err)
	mine, err := s.UpsertMember([]byte("mine"))
	require.NoError(t, err)

	require.NoError(t, s.RegisterCommunity([]byte("cid-1"), master, mine, "chat"))
	require.NoError(t, s.RegisterCommunity([]byte("cid-2"), master, mine, "chat"))
	require.NoError(t, s.RegisterCommunity([]byte("cid-3"), master, mine, "forum"))
	require.NoError(t, s.SetCommunityAutoLoad([]byte("cid-2"), false))

	found, err := s.CommunitiesByClassification("chat")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, []byte("cid-1"), found[0].CID)
}

func TestUpdateCommunityGlobalTime(t *testing.T) {
	s := openTestStore(t)
	master, err := s.UpsertMember([]byte("master"))
	require.NoError(t, err)
	mine, err := s.UpsertMember([]byte("mine"))
	require.NoError(t, err)
	require.NoError(t, s.RegisterCommunity([]byte("cid-1"), master, mine, "chat"))

	require.NoError(t, s.UpdateCommunityGlobalTime([]byte("cid-1"), 42))
	rec, err := s.GetCommunity([]byte("cid-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), rec.GlobalTime)
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	s := openTestStore(t)
	memberID, err := s.UpsertMember([]byte("member-a"))
	require.NoError(t, err)

	err = s.WithTx(func(tx *Tx) error {
		_, err := tx.InsertRow(&Row{Community: []byte("c1"), Member: memberID, MetaMessage: "text", GlobalTime: 1, Packet: []byte("p")})
		return err
	})
	require.NoError(t, err)

	row, err := s.Fetch([]byte("c1"), memberID, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("p"), row.Packet)
}
