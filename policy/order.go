package policy

import (
	"sort"

	"github.com/opd-ai/dispersy-go/store"
)

// SortInOrder sorts rows ascending by global_time in place and returns
// it, for InOrder destination delivery (spec.md §4.6).
func SortInOrder(rows []*store.Row) []*store.Row {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].GlobalTime < rows[j].GlobalTime })
	return rows
}

// SortOutOrder sorts rows descending by global_time in place and
// returns it, for OutOrder destination delivery (spec.md §4.6).
func SortOutOrder(rows []*store.Row) []*store.Row {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].GlobalTime > rows[j].GlobalTime })
	return rows
}

// SyncResponseOrder arranges a sync response per spec.md §4.6: the
// OutOrder batch first (descending), then the InOrder batch (ascending)
// — stable across repeated requests given the same store state since
// both sorts are stable and keyed purely on stored data.
func SyncResponseOrder(outOrderRows, inOrderRows []*store.Row) []*store.Row {
	combined := make([]*store.Row, 0, len(outOrderRows)+len(inOrderRows))
	combined = append(combined, SortOutOrder(outOrderRows)...)
	combined = append(combined, SortInOrder(inOrderRows)...)
	return combined
}
