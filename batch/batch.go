package batch

import (
	"bytes"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dispersy-go/timeline"
)

// Accumulator groups incoming packets by meta-message and flushes them
// per spec.md §4.5's window/size rule and four-step install algorithm.
type Accumulator struct {
	mu      sync.Mutex
	configs map[string]Config
	pending map[string][]*IncomingPacket

	exists ExistsFunc
	verify VerifyFunc
	check  CheckFunc
}

// NewAccumulator builds an Accumulator. exists, verify, and check are
// the store/crypto/timeline hooks a flush invokes; none may be nil.
func NewAccumulator(exists ExistsFunc, verify VerifyFunc, check CheckFunc) *Accumulator {
	return &Accumulator{
		configs: make(map[string]Config),
		pending: make(map[string][]*IncomingPacket),
		exists:  exists,
		verify:  verify,
		check:   check,
	}
}

// Configure registers the batch window for a meta-message.
func (a *Accumulator) Configure(meta string, cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs[meta] = cfg
}

// Add queues a packet for its meta-message's batch.
func (a *Accumulator) Add(p *IncomingPacket) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.configs[p.Meta]; !ok {
		return ErrUnknownMeta
	}
	a.pending[p.Meta] = append(a.pending[p.Meta], p)
	return nil
}

// Due returns the meta-messages whose batch should flush now: the
// oldest queued packet exceeds MaxWindow, or the queue reached
// MaxSize.
func (a *Accumulator) Due(now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var due []string
	for meta, queue := range a.pending {
		if len(queue) == 0 {
			continue
		}
		cfg := a.configs[meta]
		if len(queue) >= cfg.MaxSize || now.Sub(queue[0].Arrived) > cfg.MaxWindow {
			due = append(due, meta)
		}
	}
	return due
}

// Flush runs the four-step install algorithm (spec.md §4.5) over
// meta's pending queue and clears it.
func (a *Accumulator) Flush(meta string) (*FlushResult, error) {
	a.mu.Lock()
	if _, ok := a.configs[meta]; !ok {
		a.mu.Unlock()
		return nil, ErrUnknownMeta
	}
	queue := a.pending[meta]
	delete(a.pending, meta)
	a.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"function": "Flush", "package": "batch", "meta": meta, "queued": len(queue)})

	result := &FlushResult{Meta: meta}

	// Step 1: collapse byte-identical packets.
	collapsed := make([]*IncomingPacket, 0, len(queue))
	seenBytes := make([][]byte, 0, len(queue))
	for _, p := range queue {
		duplicate := false
		for _, raw := range seenBytes {
			if bytes.Equal(raw, p.Raw) {
				duplicate = true
				break
			}
		}
		if duplicate {
			result.Dropped = append(result.Dropped, Dropped{Packet: p, Reason: DropDuplicateInBatch})
			continue
		}
		seenBytes = append(seenBytes, p.Raw)
		collapsed = append(collapsed, p)
	}

	// Step 2: drop packets matching an existing store row, before
	// verification.
	var toVerify []*IncomingPacket
	for _, p := range collapsed {
		if a.exists(p) {
			result.Dropped = append(result.Dropped, Dropped{Packet: p, Reason: DropDuplicateInStore})
			continue
		}
		toVerify = append(toVerify, p)
	}

	// Step 3: verify signatures.
	var verified []*IncomingPacket
	for _, p := range toVerify {
		if err := a.verify(p); err != nil {
			result.Dropped = append(result.Dropped, Dropped{Packet: p, Reason: DropInvalidSignature})
			continue
		}
		verified = append(verified, p)
	}

	// Step 4: timeline check.
	for _, p := range verified {
		decision, proof := a.check(p.MemberID, p.Meta, p.Action, p.GlobalTime)
		switch decision {
		case timeline.Accept:
			result.Accepted = append(result.Accepted, p)
		case timeline.DelayByProof:
			result.Delayed = append(result.Delayed, proof)
		default: // timeline.Drop
			result.Dropped = append(result.Dropped, Dropped{Packet: p})
		}
	}

	log.WithFields(logrus.Fields{
		"accepted": len(result.Accepted),
		"dropped":  len(result.Dropped),
		"delayed":  len(result.Delayed),
	}).Debug("batch flushed")

	return result, nil
}
