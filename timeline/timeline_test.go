package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	master int64 = 1
	owner  int64 = 2
	node1  int64 = 3
)

func TestPublicResolutionAlwaysAccepts(t *testing.T) {
	tl := New(master)
	decision, proof := tl.Check(node1, "text", Permit, 100)
	assert.Equal(t, Accept, decision)
	assert.Nil(t, proof)
}

func TestMasterAlwaysHasPermission(t *testing.T) {
	tl := New(master)
	require.NoError(t, tl.ApplyDynamicSettings(DynamicSettingsEvent{Meta: "text", Resolution: ResolutionLinear, ChangedBy: master, GlobalTime: 1}))
	assert.True(t, tl.HasPermission(master, "text", Permit, 1000))
}

func TestLinearResolutionDelaysWithoutGrant(t *testing.T) {
	tl := New(master)
	require.NoError(t, tl.ApplyDynamicSettings(DynamicSettingsEvent{Meta: "text", Resolution: ResolutionLinear, ChangedBy: master, GlobalTime: 1}))

	decision, proof := tl.Check(node1, "text", Permit, 10)
	assert.Equal(t, DelayByProof, decision)
	require.NotNil(t, proof)
	assert.Equal(t, node1, proof.Member)
	assert.Equal(t, Permit, proof.Action)
}

func TestAuthorizeGrantsPermissionFromGlobalTime(t *testing.T) {
	tl := New(master)
	require.NoError(t, tl.ApplyDynamicSettings(DynamicSettingsEvent{Meta: "text", Resolution: ResolutionLinear, ChangedBy: master, GlobalTime: 1}))
	require.NoError(t, tl.ApplyAuthorize(GrantEvent{
		Meta: "text", Grantee: node1, Actions: []Action{Permit}, GrantedBy: master, GlobalTime: 5, ProofRowID: 100,
	}))

	decision, _ := tl.Check(node1, "text", Permit, 4)
	assert.Equal(t, DelayByProof, decision)

	decision, _ = tl.Check(node1, "text", Permit, 5)
	assert.Equal(t, Accept, decision)
}

func TestApplyAuthorizeRejectsUnauthorizedGranter(t *testing.T) {
	tl := New(master)
	require.NoError(t, tl.ApplyDynamicSettings(DynamicSettingsEvent{Meta: "text", Resolution: ResolutionLinear, ChangedBy: master, GlobalTime: 1}))

	err := tl.ApplyAuthorize(GrantEvent{Meta: "text", Grantee: node1, Actions: []Action{Permit}, GrantedBy: owner, GlobalTime: 5})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRevokeClosesGrantProspectively(t *testing.T) {
	tl := New(master)
	require.NoError(t, tl.ApplyDynamicSettings(DynamicSettingsEvent{Meta: "text", Resolution: ResolutionLinear, ChangedBy: master, GlobalTime: 1}))
	require.NoError(t, tl.ApplyAuthorize(GrantEvent{Meta: "text", Grantee: node1, Actions: []Action{Permit}, GrantedBy: master, GlobalTime: 5}))
	require.NoError(t, tl.ApplyRevoke(RevokeEvent{Meta: "text", Grantee: node1, Actions: []Action{Permit}, RevokedBy: master, GlobalTime: 20}))

	assert.True(t, tl.HasPermission(node1, "text", Permit, 20))
	assert.False(t, tl.HasPermission(node1, "text", Permit, 21))
}

func TestProofChase(t *testing.T) {
	// MASTER -> OWNER -> NODE1 authorize chain (spec.md §8's proof chase scenario).
	tl := New(master)
	require.NoError(t, tl.ApplyDynamicSettings(DynamicSettingsEvent{Meta: "text", Resolution: ResolutionLinear, ChangedBy: master, GlobalTime: 1}))
	require.NoError(t, tl.ApplyAuthorize(GrantEvent{
		Meta: "text", Grantee: owner, Actions: []Action{Authorize, Permit}, GrantedBy: master, GlobalTime: 2, ProofRowID: 10,
	}))
	require.NoError(t, tl.ApplyAuthorize(GrantEvent{
		Meta: "text", Grantee: node1, Actions: []Action{Permit}, GrantedBy: owner, GlobalTime: 3, ProofRowID: 20,
	}))

	chain, err := tl.MinimumProofChain(node1, "text", Permit, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 10}, chain)
}

func TestMinimumProofChainMissingReturnsError(t *testing.T) {
	tl := New(master)
	_, err := tl.MinimumProofChain(node1, "text", Permit, 3)
	assert.ErrorIs(t, err, ErrNoProofChain)
}

func TestDynamicSettingsCascadeResolutionHistory(t *testing.T) {
	tl := New(master)
	require.NoError(t, tl.ApplyDynamicSettings(DynamicSettingsEvent{Meta: "text", Resolution: ResolutionPublic, ChangedBy: master, GlobalTime: 1}))
	require.NoError(t, tl.ApplyDynamicSettings(DynamicSettingsEvent{Meta: "text", Resolution: ResolutionLinear, ChangedBy: master, GlobalTime: 50}))
	require.NoError(t, tl.ApplyDynamicSettings(DynamicSettingsEvent{Meta: "text", Resolution: ResolutionPublic, ChangedBy: master, GlobalTime: 100}))

	assert.Equal(t, ResolutionPublic, tl.ResolutionAt("text", 10))
	assert.Equal(t, ResolutionLinear, tl.ResolutionAt("text", 60))
	assert.Equal(t, ResolutionPublic, tl.ResolutionAt("text", 150))
}
