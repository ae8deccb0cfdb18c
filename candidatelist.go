package dispersy

import (
	"math/rand"
	"sync"

	"github.com/opd-ai/dispersy-go/endpoint"
)

// CandidateList tracks the network addresses a Community has observed
// or been bootstrapped with, for gossip broadcast and introduction
// requests (spec.md §3's candidate-oriented destination). It is
// intentionally simple: no walkability scoring or liveness tracking,
// just the set of addresses worth trying.
type CandidateList struct {
	mu    sync.RWMutex
	byKey map[string]endpoint.Candidate
}

// NewCandidateList returns an empty list.
func NewCandidateList() *CandidateList {
	return &CandidateList{byKey: make(map[string]endpoint.Candidate)}
}

// Add records cand, replacing any existing entry at the same address.
func (l *CandidateList) Add(cand endpoint.Candidate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byKey[cand.String()] = cand
}

// Remove drops cand from the list, if present.
func (l *CandidateList) Remove(cand endpoint.Candidate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byKey, cand.String())
}

// All returns every known candidate, in no particular order.
func (l *CandidateList) All() []endpoint.Candidate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]endpoint.Candidate, 0, len(l.byKey))
	for _, c := range l.byKey {
		out = append(out, c)
	}
	return out
}

// Sample returns up to n candidates chosen uniformly at random, for
// periodic introduction-request walks (spec.md §4.7).
func (l *CandidateList) Sample(n int) []endpoint.Candidate {
	all := l.All()
	if n >= len(all) {
		return all
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:n]
}

// Len reports how many candidates are currently known.
func (l *CandidateList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byKey)
}
