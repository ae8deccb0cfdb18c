package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/opd-ai/dispersy-go/member"
)

// Store is the single-owner persisted log (spec.md §5: "the Store is
// single-owner and is never touched by a second task mid-transaction").
// Callers above the batch layer serialize all access through the
// callback queue; Store itself adds no further locking.
type Store struct {
	db     *sql.DB
	path   string
	closed bool
}

// Open creates or opens the sqlite-backed store at path and applies the
// schema migration. path may be ":memory:" for ephemeral/test stores.
func Open(path string) (*Store, error) {
	log := logrus.WithFields(logrus.Fields{"function": "Open", "package": "store", "path": path})
	log.Debug("opening store")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-owner, avoid sqlite writer contention

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("store opened")
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	_, err := s.db.Exec(
		`INSERT INTO schema_meta(key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", schemaVersion),
	)
	if err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpsertMember inserts publicKey if unseen and returns its member id;
// a member observed before simply returns the existing row's id and
// leaves its tags untouched (tags are mutated explicitly via SetTags).
func (s *Store) UpsertMember(publicKey []byte) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO member(public_key, tags) VALUES (?, 0)
		 ON CONFLICT(public_key) DO UPDATE SET public_key = excluded.public_key`,
		publicKey,
	)
	if err != nil {
		return 0, fmt.Errorf("store: upsert member: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// ON CONFLICT path: LastInsertId is unreliable across drivers for
		// upserts, so fall back to an explicit lookup.
		var existing int64
		row := s.db.QueryRow(`SELECT id FROM member WHERE public_key = ?`, publicKey)
		if scanErr := row.Scan(&existing); scanErr != nil {
			return 0, fmt.Errorf("store: lookup member after upsert: %w", scanErr)
		}
		return existing, nil
	}
	return id, nil
}

// LookupMember returns the row id for an already-observed public key,
// or ErrNotFound if it has never been seen. Unlike UpsertMember it
// never inserts — used ahead of signature verification, where a
// not-yet-proven claimant must not acquire a durable row.
func (s *Store) LookupMember(publicKey []byte) (int64, error) {
	var id int64
	row := s.db.QueryRow(`SELECT id FROM member WHERE public_key = ?`, publicKey)
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("store: lookup member: %w", err)
	}
	return id, nil
}

// GetMember loads a member by row id.
func (s *Store) GetMember(id int64) (*member.Member, error) {
	row := s.db.QueryRow(`SELECT id, public_key, tags FROM member WHERE id = ?`, id)
	m := &member.Member{}
	var tags int
	if err := row.Scan(&m.ID, &m.PublicKey, &tags); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get member: %w", err)
	}
	m.Tags = member.Tag(tags)
	return m, nil
}

// SetMemberTags overwrites a member's local tag bits.
func (s *Store) SetMemberTags(id int64, tags member.Tag) error {
	_, err := s.db.Exec(`UPDATE member SET tags = ? WHERE id = ?`, int(tags), id)
	if err != nil {
		return fmt.Errorf("store: set member tags: %w", err)
	}
	return nil
}

// CommunityRecord is the persisted row for a known community (spec.md
// §3's classification/auto_load data model): classification identifies
// which community implementation to reconstruct it with, masterMember
// and myMember are row ids into the member table for the community's
// master and this node's own local identity.
type CommunityRecord struct {
	CID            []byte
	MasterMember   int64
	MyMember       int64
	Classification string
	AutoLoad       bool
	GlobalTime     uint64
}

// RegisterCommunity inserts cid's community row if unseen, defaulting
// to auto_load enabled (spec.md §3's dispersy_auto_load default of
// True). Reopening an already-registered cid leaves its classification
// and auto_load flag untouched — only reclassify_community (spec.md
// §6) may change classification once set.
func (s *Store) RegisterCommunity(cid []byte, masterMember, myMember int64, classification string) error {
	_, err := s.db.Exec(
		`INSERT INTO community(cid, my_member, master_member, classification, auto_load, global_time)
		 VALUES (?, ?, ?, ?, 1, 0)
		 ON CONFLICT(cid) DO UPDATE SET my_member = excluded.my_member, master_member = excluded.master_member`,
		cid, myMember, masterMember, classification,
	)
	if err != nil {
		return fmt.Errorf("store: register community: %w", err)
	}
	return nil
}

// GetCommunity returns the persisted record for cid, or ErrNotFound.
func (s *Store) GetCommunity(cid []byte) (*CommunityRecord, error) {
	rec := &CommunityRecord{CID: cid}
	var autoLoad int
	row := s.db.QueryRow(
		`SELECT master_member, my_member, classification, auto_load, global_time FROM community WHERE cid = ?`,
		cid,
	)
	if err := row.Scan(&rec.MasterMember, &rec.MyMember, &rec.Classification, &autoLoad, &rec.GlobalTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get community: %w", err)
	}
	rec.AutoLoad = autoLoad != 0
	return rec, nil
}

// ReclassifyCommunity overwrites cid's stored classification (spec.md
// §6's reclassify_community): a later auto-load pass groups cid under
// the new classification rather than the one it was registered with.
// The cid itself, derived once from the master member, never changes.
func (s *Store) ReclassifyCommunity(cid []byte, classification string) error {
	res, err := s.db.Exec(`UPDATE community SET classification = ? WHERE cid = ?`, classification, cid)
	if err != nil {
		return fmt.Errorf("store: reclassify community: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: reclassify community: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCommunityAutoLoad toggles whether cid is returned by
// CommunitiesByClassification (spec.md §6's per-instance
// dispersy_auto_load flag).
func (s *Store) SetCommunityAutoLoad(cid []byte, autoLoad bool) error {
	v := 0
	if autoLoad {
		v = 1
	}
	res, err := s.db.Exec(`UPDATE community SET auto_load = ? WHERE cid = ?`, v, cid)
	if err != nil {
		return fmt.Errorf("store: set community auto_load: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set community auto_load: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCommunityGlobalTime persists the community's high-water mark so
// a restart resumes sync from where it left off instead of 0.
func (s *Store) UpdateCommunityGlobalTime(cid []byte, globalTime uint64) error {
	_, err := s.db.Exec(`UPDATE community SET global_time = ? WHERE cid = ?`, globalTime, cid)
	if err != nil {
		return fmt.Errorf("store: update community global time: %w", err)
	}
	return nil
}

// CommunitiesByClassification returns every community record registered
// under classification with auto_load set, for Context.AutoLoad to
// resume at startup (spec.md §3, §6's define_auto_load/auto_load
// combination).
func (s *Store) CommunitiesByClassification(classification string) ([]*CommunityRecord, error) {
	rows, err := s.db.Query(
		`SELECT cid, master_member, my_member, auto_load, global_time
		   FROM community WHERE classification = ? AND auto_load = 1`,
		classification,
	)
	if err != nil {
		return nil, fmt.Errorf("store: communities by classification: %w", err)
	}
	defer rows.Close()
	var out []*CommunityRecord
	for rows.Next() {
		rec := &CommunityRecord{Classification: classification}
		var autoLoad int
		if err := rows.Scan(&rec.CID, &rec.MasterMember, &rec.MyMember, &autoLoad, &rec.GlobalTime); err != nil {
			return nil, fmt.Errorf("store: scan community: %w", err)
		}
		rec.AutoLoad = autoLoad != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertRow inserts a new row, returning ErrDuplicate if it violates
// the (community, member, global_time) uniqueness constraint (spec.md
// §3, §4.3: "insert(row) — fails with Duplicate if uniqueness
// constraint is hit").
func (s *Store) InsertRow(r *Row) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sync(community, member, meta_message, global_time, packet, sequence, undone)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Community, r.Member, r.MetaMessage, r.GlobalTime, r.Packet, r.Sequence, r.Undone,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("store: insert row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert row: %w", err)
	}
	return id, nil
}

// InsertDoubleSignedRef records the co-signer pair for a double-signed
// row (spec.md §6's double_signed_sync reference table).
func (s *Store) InsertDoubleSignedRef(rowID, member1, member2 int64) error {
	_, err := s.db.Exec(
		`INSERT INTO double_signed_sync(sync, member1, member2) VALUES (?, ?, ?)`,
		rowID, member1, member2,
	)
	if err != nil {
		return fmt.Errorf("store: insert double-signed ref: %w", err)
	}
	return nil
}

// Fetch returns the live-or-undone row for (community, member,
// global_time), or ErrNotFound.
func (s *Store) Fetch(community []byte, memberID int64, globalTime uint64) (*Row, error) {
	row := s.db.QueryRow(
		`SELECT id, community, member, meta_message, global_time, packet, sequence, undone
		   FROM sync WHERE community = ? AND member = ? AND global_time = ?`,
		community, memberID, globalTime,
	)
	return scanRow(row)
}

// FetchByID returns a row by its store id.
func (s *Store) FetchByID(id int64) (*Row, error) {
	row := s.db.QueryRow(
		`SELECT id, community, member, meta_message, global_time, packet, sequence, undone
		   FROM sync WHERE id = ?`, id,
	)
	return scanRow(row)
}

func scanRow(row *sql.Row) (*Row, error) {
	r := &Row{}
	if err := row.Scan(&r.ID, &r.Community, &r.Member, &r.MetaMessage, &r.GlobalTime, &r.Packet, &r.Sequence, &r.Undone); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: fetch row: %w", err)
	}
	return r, nil
}

// FetchRange returns rows for (community, meta-message) with
// low <= global_time <= high, ascending by global_time.
func (s *Store) FetchRange(community []byte, metaMessage string, low, high uint64) ([]*Row, error) {
	rows, err := s.db.Query(
		`SELECT id, community, member, meta_message, global_time, packet, sequence, undone
		   FROM sync
		  WHERE community = ? AND meta_message = ? AND global_time BETWEEN ? AND ?
		  ORDER BY global_time ASC`,
		community, metaMessage, low, high,
	)
	if err != nil {
		return nil, fmt.Errorf("store: fetch range: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchSince returns every row in the community at or after
// lowGlobalTime, ascending by global_time. Used by the anti-entropy
// sync path, which scans the store directly rather than maintaining an
// in-memory range index (SPEC_FULL.md Open Question #2).
func (s *Store) FetchSince(community []byte, lowGlobalTime uint64) ([]*Row, error) {
	rows, err := s.db.Query(
		`SELECT id, community, member, meta_message, global_time, packet, sequence, undone
		   FROM sync WHERE community = ? AND global_time >= ?
		  ORDER BY global_time ASC`,
		community, lowGlobalTime,
	)
	if err != nil {
		return nil, fmt.Errorf("store: fetch since: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchByMember returns every row, live or undone, for (community,
// member, meta-message), ascending by global_time — used by last-N single-member
// accounting.
func (s *Store) FetchByMember(community []byte, memberID int64, metaMessage string) ([]*Row, error) {
	rows, err := s.db.Query(
		`SELECT id, community, member, meta_message, global_time, packet, sequence, undone
		   FROM sync
		  WHERE community = ? AND member = ? AND meta_message = ?
		  ORDER BY global_time ASC`,
		community, memberID, metaMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("store: fetch by member: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchByCombination returns rows for a double-signed meta-message
// authored by the ordered member pair (member1, member2), ascending by
// global_time — used by last-N double-member accounting.
func (s *Store) FetchByCombination(community []byte, metaMessage string, member1, member2 int64) ([]*Row, error) {
	rows, err := s.db.Query(
		`SELECT s.id, s.community, s.member, s.meta_message, s.global_time, s.packet, s.sequence, s.undone
		   FROM sync s
		   JOIN double_signed_sync d ON d.sync = s.id
		  WHERE s.community = ? AND s.meta_message = ? AND d.member1 = ? AND d.member2 = ?
		  ORDER BY s.global_time ASC`,
		community, metaMessage, member1, member2,
	)
	if err != nil {
		return nil, fmt.Errorf("store: fetch by combination: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchBySequence returns the row stored for (community, member, meta,
// seq), or ErrNotFound.
func (s *Store) FetchBySequence(community []byte, memberID int64, metaMessage string, seq uint32) (*Row, error) {
	row := s.db.QueryRow(
		`SELECT id, community, member, meta_message, global_time, packet, sequence, undone
		   FROM sync WHERE community = ? AND member = ? AND meta_message = ? AND sequence = ?`,
		community, memberID, metaMessage, seq,
	)
	return scanRow(row)
}

// FetchSequenceGreaterThan returns rows for (community, member, meta)
// with sequence > seq, ascending by sequence — the orphaned tail a
// sequence replacement drops.
func (s *Store) FetchSequenceGreaterThan(community []byte, memberID int64, metaMessage string, seq uint32) ([]*Row, error) {
	rows, err := s.db.Query(
		`SELECT id, community, member, meta_message, global_time, packet, sequence, undone
		   FROM sync
		  WHERE community = ? AND member = ? AND meta_message = ? AND sequence > ?
		  ORDER BY sequence ASC`,
		community, memberID, metaMessage, seq,
	)
	if err != nil {
		return nil, fmt.Errorf("store: fetch sequence greater than: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// MaxSequence returns the highest sequence number stored for
// (community, member, meta), or 0 if none exist.
func (s *Store) MaxSequence(community []byte, memberID int64, metaMessage string) (uint32, error) {
	var max sql.NullInt64
	row := s.db.QueryRow(
		`SELECT MAX(sequence) FROM sync WHERE community = ? AND member = ? AND meta_message = ?`,
		community, memberID, metaMessage,
	)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("store: max sequence: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint32(max.Int64), nil
}

// DoubleSignedMembers returns the (member1, member2) pair recorded for
// a double-signed row, or ErrNotFound if rowID has no such reference.
func (s *Store) DoubleSignedMembers(rowID int64) (int64, int64, error) {
	row := s.db.QueryRow(`SELECT member1, member2 FROM double_signed_sync WHERE sync = ?`, rowID)
	var m1, m2 int64
	if err := row.Scan(&m1, &m2); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, ErrNotFound
		}
		return 0, 0, fmt.Errorf("store: double-signed members: %w", err)
	}
	return m1, m2, nil
}

func scanRows(rows *sql.Rows) ([]*Row, error) {
	var out []*Row
	for rows.Next() {
		r := &Row{}
		if err := rows.Scan(&r.ID, &r.Community, &r.Member, &r.MetaMessage, &r.GlobalTime, &r.Packet, &r.Sequence, &r.Undone); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan rows: %w", err)
	}
	return out, nil
}

// MarkUndone sets rowID's undone reference to undoingRowID (spec.md
// §4.3, §4.8).
func (s *Store) MarkUndone(rowID, undoingRowID int64) error {
	_, err := s.db.Exec(`UPDATE sync SET undone = ? WHERE id = ?`, undoingRowID, rowID)
	if err != nil {
		return fmt.Errorf("store: mark undone: %w", err)
	}
	return nil
}

// ClearUndone resets rowID to live (undone = 0) — used by the
// dynamic-settings cascade when a policy change restores permission.
func (s *Store) ClearUndone(rowID int64) error {
	_, err := s.db.Exec(`UPDATE sync SET undone = 0 WHERE id = ?`, rowID)
	if err != nil {
		return fmt.Errorf("store: clear undone: %w", err)
	}
	return nil
}

// DeleteRow removes a single row by id, used by last-N eviction. Any
// double_signed_sync reference for the row is removed with it.
func (s *Store) DeleteRow(rowID int64) error {
	if _, err := s.db.Exec(`DELETE FROM double_signed_sync WHERE sync = ?`, rowID); err != nil {
		return fmt.Errorf("store: delete row: %w", err)
	}
	_, err := s.db.Exec(`DELETE FROM sync WHERE id = ?`, rowID)
	if err != nil {
		return fmt.Errorf("store: delete row: %w", err)
	}
	return nil
}

// DeleteWhere purges every row authored by memberID in community — used
// when a member is declared malicious (spec.md §4.3, §4.8). It returns
// the number of rows removed.
func (s *Store) DeleteWhere(community []byte, memberID int64) (int64, error) {
	_, err := s.db.Exec(
		`DELETE FROM double_signed_sync WHERE sync IN (SELECT id FROM sync WHERE community = ? AND member = ?)`,
		community, memberID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: delete where: %w", err)
	}
	res, err := s.db.Exec(`DELETE FROM sync WHERE community = ? AND member = ?`, community, memberID)
	if err != nil {
		return 0, fmt.Errorf("store: delete where: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete where: %w", err)
	}
	return n, nil
}

// InsertMaliciousProof retains a packet as malicious proof for a member
// (spec.md §4.8: "retained as malicious proof to be forwarded").
func (s *Store) InsertMaliciousProof(community []byte, memberID int64, packet []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO malicious_proof(community, member, packet) VALUES (?, ?, ?)`,
		community, memberID, packet,
	)
	if err != nil {
		return fmt.Errorf("store: insert malicious proof: %w", err)
	}
	return nil
}

// MaliciousProof returns the retained proof packets for a member, if
// any.
func (s *Store) MaliciousProof(community []byte, memberID int64) ([][]byte, error) {
	rows, err := s.db.Query(
		`SELECT packet FROM malicious_proof WHERE community = ? AND member = ?`,
		community, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: malicious proof: %w", err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var packet []byte
		if err := rows.Scan(&packet); err != nil {
			return nil, fmt.Errorf("store: scan malicious proof: %w", err)
		}
		out = append(out, packet)
	}
	return out, rows.Err()
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. Used for the atomic multi-row writes
// spec.md §4.3 requires for batch installs and policy-cascade undo.
func (s *Store) WithTx(fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	tx := &Tx{sqlTx: sqlTx}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		err = sqlTx.Commit()
	}()
	err = fn(tx)
	return err
}

// Tx is a single-transaction handle exposing the subset of Store's
// operations that batch installs and undo cascades perform atomically.
type Tx struct {
	sqlTx *sql.Tx
}

// InsertRow behaves like Store.InsertRow within the transaction.
func (t *Tx) InsertRow(r *Row) (int64, error) {
	res, err := t.sqlTx.Exec(
		`INSERT INTO sync(community, member, meta_message, global_time, packet, sequence, undone)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Community, r.Member, r.MetaMessage, r.GlobalTime, r.Packet, r.Sequence, r.Undone,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("store: tx insert row: %w", err)
	}
	return res.LastInsertId()
}

// MarkUndone behaves like Store.MarkUndone within the transaction.
func (t *Tx) MarkUndone(rowID, undoingRowID int64) error {
	_, err := t.sqlTx.Exec(`UPDATE sync SET undone = ? WHERE id = ?`, undoingRowID, rowID)
	if err != nil {
		return fmt.Errorf("store: tx mark undone: %w", err)
	}
	return nil
}

// ClearUndone behaves like Store.ClearUndone within the transaction.
func (t *Tx) ClearUndone(rowID int64) error {
	_, err := t.sqlTx.Exec(`UPDATE sync SET undone = 0 WHERE id = ?`, rowID)
	if err != nil {
		return fmt.Errorf("store: tx clear undone: %w", err)
	}
	return nil
}

// DeleteRow behaves like Store.DeleteRow within the transaction.
func (t *Tx) DeleteRow(rowID int64) error {
	if _, err := t.sqlTx.Exec(`DELETE FROM double_signed_sync WHERE sync = ?`, rowID); err != nil {
		return fmt.Errorf("store: tx delete row: %w", err)
	}
	_, err := t.sqlTx.Exec(`DELETE FROM sync WHERE id = ?`, rowID)
	if err != nil {
		return fmt.Errorf("store: tx delete row: %w", err)
	}
	return nil
}
