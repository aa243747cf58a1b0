package sqlite

const schemaSQL = `
-- Jobs: one row per user command. Status changes only via CAS.
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	source_signature TEXT NOT NULL,
	filter_spec TEXT,
	service_code TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT 'fail_fast',
	auto_confirm INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	generation INTEGER NOT NULL DEFAULT 1,
	total_rows INTEGER NOT NULL DEFAULT 0,
	succeeded_rows INTEGER NOT NULL DEFAULT 0,
	failed_rows INTEGER NOT NULL DEFAULT 0,
	skipped_rows INTEGER NOT NULL DEFAULT 0,
	preview_cost INTEGER NOT NULL DEFAULT 0,
	total_cost INTEGER NOT NULL DEFAULT 0,
	approval_hash TEXT NOT NULL DEFAULT '',
	error TEXT,
	created_at INTEGER NOT NULL,
	approved_at INTEGER,
	started_at INTEGER,
	completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at DESC);

-- Job rows: per-input-row state. Payload snapshot stored before dispatch.
CREATE TABLE IF NOT EXISTS job_rows (
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	row_number INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	order_record TEXT NOT NULL,
	payload_snapshot BLOB,
	status TEXT NOT NULL,
	rated_cost INTEGER NOT NULL DEFAULT 0,
	final_cost INTEGER NOT NULL DEFAULT 0,
	tracking TEXT NOT NULL DEFAULT '',
	label_ref TEXT NOT NULL DEFAULT '',
	error TEXT,
	warnings TEXT,
	attempt INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (job_id, row_number)
);

CREATE INDEX IF NOT EXISTS idx_job_rows_status ON job_rows(job_id, status);

-- Audit: append-only, monotonic sequence per store.
CREATE TABLE IF NOT EXISTS audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	row_number INTEGER,
	kind TEXT NOT NULL,
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL,
	digest TEXT NOT NULL DEFAULT '',
	ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_job ON audit(job_id, id);

-- Single-writer guard: at most one worker process per data store.
CREATE TABLE IF NOT EXISTS runtime_lock (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	pid INTEGER NOT NULL,
	heartbeat INTEGER NOT NULL
);
`
