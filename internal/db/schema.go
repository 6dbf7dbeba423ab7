package db

// schema is the full DDL. Every statement is idempotent.
var schema = `
CREATE TABLE IF NOT EXISTS company_profiles (
	id              TEXT PRIMARY KEY,
	company_type    TEXT NOT NULL DEFAULT '',
	industry        TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	employee_count  INTEGER NOT NULL DEFAULT 0 CHECK (employee_count >= 0),
	annual_revenue  BIGINT NOT NULL DEFAULT 0 CHECK (annual_revenue >= 0),
	founded_at      DATE,
	certifications  TEXT[] NOT NULL DEFAULT '{}',
	description     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS support_programs (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT '',
	support_type    TEXT NOT NULL DEFAULT '',
	support_amount  TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	criteria        JSONB NOT NULL DEFAULT '{}',
	deadline        TIMESTAMPTZ,
	search_vector   TSVECTOR GENERATED ALWAYS AS (
		setweight(to_tsvector('simple', title), 'A') ||
		setweight(to_tsvector('simple', category || ' ' || support_type), 'B') ||
		setweight(to_tsvector('simple', summary), 'C')
	) STORED,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_support_programs_search ON support_programs USING GIN (search_vector);

CREATE TABLE IF NOT EXISTS match_feedback (
	id               UUID PRIMARY KEY,
	user_id          TEXT NOT NULL,
	subject_id       TEXT NOT NULL,
	accuracy_rating  SMALLINT NOT NULL CHECK (accuracy_rating BETWEEN 1 AND 5),
	direction        TEXT NOT NULL CHECK (direction IN ('too_high', 'accurate', 'too_low')),
	outcome          TEXT CHECK (outcome IN ('not_applied', 'applied', 'approved', 'rejected')),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, subject_id)
);

CREATE INDEX IF NOT EXISTS idx_match_feedback_updated ON match_feedback (updated_at DESC);
`
