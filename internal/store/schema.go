package store

// schemaVersion is the target schema version for this build.
const schemaVersion = 1

// schema is the full DDL for a fresh install.
// Steps are stored as a JSON array on the case row; suite membership keeps
// an explicit position so the member snapshot is returned in a stable order.
var schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS projects (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	base_url TEXT
);

CREATE TABLE IF NOT EXISTS modules (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS page_elements (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	locator_type  TEXT NOT NULL,
	locator_value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_cases (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	module_id  INTEGER NOT NULL REFERENCES modules(id),
	name       TEXT NOT NULL,
	steps      TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_suites (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_suite_cases (
	suite_id INTEGER NOT NULL REFERENCES test_suites(id),
	case_id  INTEGER NOT NULL REFERENCES test_cases(id),
	position INTEGER NOT NULL,
	PRIMARY KEY (suite_id, case_id)
);

CREATE TABLE IF NOT EXISTS test_reports (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	test_case_id  INTEGER REFERENCES test_cases(id),
	test_suite_id INTEGER REFERENCES test_suites(id),
	executor_id   INTEGER,
	report_path   TEXT NOT NULL,
	status        TEXT NOT NULL,
	browser_type  TEXT NOT NULL DEFAULT 'chromium',
	headless      INTEGER NOT NULL DEFAULT 1,
	error_message TEXT,
	created_at    TEXT NOT NULL,
	CHECK (test_case_id IS NULL OR test_suite_id IS NULL)
);
CREATE INDEX IF NOT EXISTS idx_reports_created ON test_reports(created_at);
`
