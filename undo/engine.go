package undo

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dispersy-go/member"
	"github.com/opd-ai/dispersy-go/store"
	"github.com/opd-ai/dispersy-go/timeline"
)

// UndoCallback is invoked once per successfully-applied undo, so the
// owning meta-message can react (e.g. remove a message from an
// application-level index). It is optional; Engine.SetCallback
// registers one per meta-message name.
type UndoCallback func(target *store.Row, undoRowID int64)

// Outcome describes what Apply did with an incoming undo packet.
type Outcome struct {
	Applied         bool
	Duplicate       bool
	AlreadyUndone   bool // idempotent local re-issue: existing undo returned
	AlreadyByOther  bool // a different party's undo already stands
	Malicious       bool
	TargetRowID     int64
	UndoRowID       int64
	ExistingUndoRow *store.Row
}

// Engine applies undo and revoke events against one community's store
// and timeline (spec.md §4.8).
type Engine struct {
	store     *store.Store
	timeline  *timeline.Timeline
	callbacks map[string]UndoCallback
}

// New returns an Engine wired to s and tl.
func New(s *store.Store, tl *timeline.Timeline) *Engine {
	return &Engine{store: s, timeline: tl, callbacks: make(map[string]UndoCallback)}
}

// SetCallback registers the undo-callback for a meta-message.
func (e *Engine) SetCallback(meta string, cb UndoCallback) {
	e.callbacks[meta] = cb
}

// CreateUndo implements the local idempotence rule: re-issuing
// create_dispersy_undo for an already-undone target returns the
// existing undo row instead of letting the caller build a second one.
func (e *Engine) CreateUndo(targetRowID int64) (existing *store.Row, alreadyExists bool, err error) {
	target, err := e.store.FetchByID(targetRowID)
	if err != nil {
		return nil, false, err
	}
	if !target.IsUndone() {
		return nil, false, nil
	}
	row, err := e.store.FetchByID(target.Undone)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// Apply processes an incoming undo packet (undoRow, whose Member field
// is the undoer) targeting targetRowID. community scopes the malicious
// purge; the permission check uses the target's own meta-message.
func (e *Engine) Apply(community []byte, undoRow *store.Row, targetRowID int64) (*Outcome, error) {
	log := logrus.WithFields(logrus.Fields{"function": "Apply", "package": "undo", "target": targetRowID})

	target, err := e.store.FetchByID(targetRowID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}

	own := target.Member == undoRow.Member
	checkGlobalTime := undoRow.GlobalTime
	action := timeline.Permit
	if !own {
		checkGlobalTime = target.GlobalTime
		action = timeline.Undo
	}
	if !e.timeline.HasPermission(undoRow.Member, target.MetaMessage, action, checkGlobalTime) {
		log.Warn("undo rejected: permission denied")
		return nil, ErrNotPermitted
	}

	if target.IsUndone() {
		return e.applyToAlreadyUndone(community, target, undoRow, log)
	}

	undoRowID, err := e.store.InsertRow(undoRow)
	if err != nil {
		return nil, err
	}
	if err := e.store.MarkUndone(target.ID, undoRowID); err != nil {
		return nil, err
	}
	if cb := e.callbacks[target.MetaMessage]; cb != nil {
		cb(target, undoRowID)
	}
	log.Debug("undo applied")
	return &Outcome{Applied: true, TargetRowID: target.ID, UndoRowID: undoRowID}, nil
}

func (e *Engine) applyToAlreadyUndone(community []byte, target *store.Row, undoRow *store.Row, log *logrus.Entry) (*Outcome, error) {
	firstUndo, err := e.store.FetchByID(target.Undone)
	if err != nil {
		return nil, err
	}

	if bytes.Equal(firstUndo.Packet, undoRow.Packet) {
		return &Outcome{Duplicate: true, TargetRowID: target.ID, ExistingUndoRow: firstUndo}, nil
	}

	if firstUndo.Member != undoRow.Member {
		log.Debug("target already undone by a different party; first undo stands")
		return &Outcome{AlreadyByOther: true, TargetRowID: target.ID, ExistingUndoRow: firstUndo}, ErrAlreadyUndoneByOther
	}

	log.Warn("double-undo by same author detected, blacklisting member")
	if err := e.store.InsertMaliciousProof(community, undoRow.Member, firstUndo.Packet); err != nil {
		return nil, err
	}
	if err := e.store.InsertMaliciousProof(community, undoRow.Member, undoRow.Packet); err != nil {
		return nil, err
	}
	if err := e.store.SetMemberTags(undoRow.Member, member.TagBlacklist); err != nil {
		return nil, err
	}
	if _, err := e.store.DeleteWhere(community, undoRow.Member); err != nil {
		return nil, err
	}
	return &Outcome{Malicious: true, TargetRowID: target.ID}, &MaliciousDoubleUndo{Community: community, Member: undoRow.Member}
}

// ApplyRevoke forwards a dispersy-revoke event to the timeline and does
// nothing else: no re-scan runs here (CascadeDynamicSettings covers
// resolution changes only, spec.md §4.8), so a plain revoke only
// narrows future permission checks and never retroactively undoes past
// messages.
func (e *Engine) ApplyRevoke(ev timeline.RevokeEvent) error {
	return e.timeline.ApplyRevoke(ev)
}
