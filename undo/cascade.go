package undo

import (
	"math"

	"github.com/opd-ai/dispersy-go/store"
	"github.com/opd-ai/dispersy-go/timeline"
)

// CascadeResult tallies what a dynamic-settings re-scan changed.
type CascadeResult struct {
	MarkedUndone int
	Cleared      int
}

// CascadeDynamicSettings re-checks every stored message of meta against
// the timeline's permission set as of the dynamic-settings change at
// globalTime (spec.md §4.8 and §8's "dynamic settings cascade"): a
// message whose author no longer holds Permit at its own global_time
// is marked undone, attributed to the dynamic-settings proof row; a
// message previously undone by that same proof row whose author is
// permitted again has its undone flag cleared.
//
// Only messages strictly earlier than globalTime are in scope — the
// change takes effect prospectively, matching ApplyRevoke's own
// global_time+1 semantics.
func (e *Engine) CascadeDynamicSettings(community []byte, meta string, globalTime uint64, proofRowID int64) (*CascadeResult, error) {
	rows, err := e.store.FetchRange(community, meta, 0, math.MaxUint64)
	if err != nil {
		return nil, err
	}
	result := &CascadeResult{}
	for _, r := range rows {
		if r.GlobalTime >= globalTime {
			continue
		}
		permitted := e.timeline.HasPermission(r.Member, meta, timeline.Permit, r.GlobalTime)
		switch {
		case !permitted && !r.IsUndone():
			if err := e.store.MarkUndone(r.ID, proofRowID); err != nil {
				return nil, err
			}
			result.MarkedUndone++
		case permitted && r.Undone == proofRowID:
			if err := e.store.ClearUndone(r.ID); err != nil {
				return nil, err
			}
			result.Cleared++
		}
	}
	return result, nil
}
