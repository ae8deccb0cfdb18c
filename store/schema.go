package store

// schemaVersion is bumped whenever the table layout below changes.
// migrate() is additive-only: it never drops or rewrites an existing
// table, matching the append-only character of the log it backs.
const schemaVersion = 2

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS community (
	cid            BLOB PRIMARY KEY,
	my_member      INTEGER,
	master_member  INTEGER,
	classification TEXT NOT NULL,
	auto_load      INTEGER NOT NULL DEFAULT 0,
	global_time    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS member (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	public_key BLOB NOT NULL UNIQUE,
	tags       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	community    BLOB NOT NULL,
	member       INTEGER NOT NULL,
	meta_message TEXT NOT NULL,
	global_time  INTEGER NOT NULL,
	packet       BLOB NOT NULL,
	sequence     INTEGER NOT NULL DEFAULT 0,
	undone       INTEGER NOT NULL DEFAULT 0,
	UNIQUE(community, member, global_time)
);

CREATE INDEX IF NOT EXISTS idx_sync_sequence
	ON sync(community, member, meta_message, sequence);

CREATE INDEX IF NOT EXISTS idx_sync_range
	ON sync(community, meta_message, global_time);

CREATE INDEX IF NOT EXISTS idx_sync_member
	ON sync(community, member, meta_message);

CREATE TABLE IF NOT EXISTS double_signed_sync (
	sync    INTEGER PRIMARY KEY REFERENCES sync(id),
	member1 INTEGER NOT NULL,
	member2 INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_double_signed_combination
	ON double_signed_sync(member1, member2);

CREATE TABLE IF NOT EXISTS malicious_proof (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	community BLOB NOT NULL,
	member    INTEGER NOT NULL,
	packet    BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_malicious_proof_member
	ON malicious_proof(community, member);
`
