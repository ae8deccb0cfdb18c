package timeline

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Timeline is one community's permission history.
type Timeline struct {
	mu         sync.RWMutex
	masterID   int64
	grants     map[grantKey][]grantRange
	resolution map[string][]resolutionChange
}

// New creates a Timeline whose master member (the community's root of
// authority, spec.md §3) holds every permission unconditionally.
func New(masterID int64) *Timeline {
	return &Timeline{
		masterID:   masterID,
		grants:     make(map[grantKey][]grantRange),
		resolution: make(map[string][]resolutionChange),
	}
}

// HasPermission reports whether member held action for meta at
// globalTime, per the recorded grant ranges. The master member always
// holds every permission.
func (tl *Timeline) HasPermission(memberID int64, meta string, action Action, globalTime uint64) bool {
	if memberID == tl.masterID {
		return true
	}
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	for _, r := range tl.grants[grantKey{memberID, meta, action}] {
		if r.activeAt(globalTime) {
			return true
		}
	}
	return false
}

// ApplyAuthorize records a dispersy-authorize event. The granter must
// already hold Authorize for meta at the event's global_time, unless
// the granter is the master member (spec.md §4.4: "the first
// dispersy-authorize is signed by the master").
func (tl *Timeline) ApplyAuthorize(ev GrantEvent) error {
	log := logrus.WithFields(logrus.Fields{"function": "ApplyAuthorize", "package": "timeline", "meta": ev.Meta, "grantee": ev.Grantee})
	if ev.GrantedBy != tl.masterID && !tl.HasPermission(ev.GrantedBy, ev.Meta, Authorize, ev.GlobalTime) {
		log.Warn("granter lacks authorize permission")
		return ErrPermissionDenied
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for _, action := range ev.Actions {
		key := grantKey{ev.Grantee, ev.Meta, action}
		tl.grants[key] = append(tl.grants[key], grantRange{
			from:       ev.GlobalTime,
			grantedBy:  ev.GrantedBy,
			proofRowID: ev.ProofRowID,
		})
	}
	log.Debug("authorize applied")
	return nil
}

// ApplyRevoke records a dispersy-revoke event, closing the affected
// grant ranges from globalTime+1 onward (spec.md §4.8: "removes a
// permission prospectively from global_time+1").
func (tl *Timeline) ApplyRevoke(ev RevokeEvent) error {
	log := logrus.WithFields(logrus.Fields{"function": "ApplyRevoke", "package": "timeline", "meta": ev.Meta, "grantee": ev.Grantee})
	if ev.RevokedBy != tl.masterID && !tl.HasPermission(ev.RevokedBy, ev.Meta, Revoke, ev.GlobalTime) {
		log.Warn("revoker lacks revoke permission")
		return ErrPermissionDenied
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	cutoff := ev.GlobalTime + 1
	for _, action := range ev.Actions {
		key := grantKey{ev.Grantee, ev.Meta, action}
		ranges := tl.grants[key]
		for i := range ranges {
			if ranges[i].activeAt(ev.GlobalTime) && ranges[i].to == 0 {
				ranges[i].to = cutoff
			}
		}
	}
	log.Debug("revoke applied")
	return nil
}

// ApplyDynamicSettings records a resolution-policy change for meta,
// effective from globalTime. The changer must hold Authorize for meta
// at globalTime.
func (tl *Timeline) ApplyDynamicSettings(ev DynamicSettingsEvent) error {
	if ev.ChangedBy != tl.masterID && !tl.HasPermission(ev.ChangedBy, ev.Meta, Authorize, ev.GlobalTime) {
		return ErrPermissionDenied
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	history := tl.resolution[ev.Meta]
	history = append(history, resolutionChange{from: ev.GlobalTime, resolution: ev.Resolution, proofRowID: ev.ProofRowID})
	sort.Slice(history, func(i, j int) bool { return history[i].from < history[j].from })
	tl.resolution[ev.Meta] = history
	return nil
}

// ResolutionAt returns the resolution policy in effect for meta at
// globalTime. A meta-message with no recorded dynamic-settings history
// defaults to ResolutionPublic.
func (tl *Timeline) ResolutionAt(meta string, globalTime uint64) Resolution {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	history := tl.resolution[meta]
	res := ResolutionPublic
	for _, change := range history {
		if change.from > globalTime {
			break
		}
		res = change.resolution
	}
	return res
}

// GetResolutionPolicy returns the resolution in effect for meta at
// globalTime, plus the proof messages (store row ids) that established
// it (spec.md §4.4's get_resolution_policy).
func (tl *Timeline) GetResolutionPolicy(meta string, globalTime uint64) (Resolution, []int64) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	history := tl.resolution[meta]
	res := ResolutionPublic
	var proofs []int64
	for _, change := range history {
		if change.from > globalTime {
			break
		}
		res = change.resolution
		proofs = append(proofs, change.proofRowID)
	}
	return res, proofs
}

// Check answers whether a message authored by memberID, of the given
// meta-message and action, may proceed at globalTime (spec.md §4.4).
func (tl *Timeline) Check(memberID int64, meta string, action Action, globalTime uint64) (Decision, *ProofRequest) {
	if tl.ResolutionAt(meta, globalTime) == ResolutionPublic {
		return Accept, nil
	}
	if tl.HasPermission(memberID, meta, action, globalTime) {
		return Accept, nil
	}
	return DelayByProof, &ProofRequest{Member: memberID, Meta: meta, Action: action, GlobalTime: globalTime}
}

// MinimumProofChain returns the store row ids proving memberID held
// action for meta at globalTime, nearest grant first, walking back to
// (but not including) the master member's implicit root authority.
// If action is itself Authorize, the chain proves the member's own
// authorize right — not a Permit — matching spec.md §4.4's reply rule
// for dispersy-missing-proof.
func (tl *Timeline) MinimumProofChain(memberID int64, meta string, action Action, globalTime uint64) ([]int64, error) {
	if memberID == tl.masterID {
		return nil, nil
	}
	tl.mu.RLock()
	var found *grantRange
	for _, r := range tl.grants[grantKey{memberID, meta, action}] {
		if r.activeAt(globalTime) {
			rr := r
			found = &rr
			break
		}
	}
	tl.mu.RUnlock()
	if found == nil {
		return nil, ErrNoProofChain
	}
	chain := []int64{found.proofRowID}
	if found.grantedBy == tl.masterID {
		return chain, nil
	}
	rest, err := tl.MinimumProofChain(found.grantedBy, meta, Authorize, found.from)
	if err != nil {
		return nil, err
	}
	return append(chain, rest...), nil
}
