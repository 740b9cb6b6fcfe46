package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by mutations addressed at a missing row.
var ErrNotFound = errors.New("not found")

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullID maps 0 to NULL for optional foreign keys.
func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// queryer is satisfied by both *sql.DB and *sql.Conn, so the read path is
// shared between the store and its per-run handles.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

var _ Store = (*SqlStore)(nil)

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .uiauto) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than this build (v%d)", version, schemaVersion)
	}
	return nil
}

// Close closes the underlying database.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// Acquire pins a dedicated connection from the pool for one run.
func (s *SqlStore) Acquire(ctx context.Context) (Handle, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &connHandle{conn: conn}, nil
}

func (s *SqlStore) GetCase(ctx context.Context, id int64) (*Case, error) {
	return getCase(ctx, s.db, id)
}

func (s *SqlStore) GetElement(ctx context.Context, id int64) (*Element, error) {
	return getElement(ctx, s.db, id)
}

func (s *SqlStore) GetSuite(ctx context.Context, id int64) (*Suite, error) {
	return getSuite(ctx, s.db, id)
}

func (s *SqlStore) CreateProject(ctx context.Context, p *Project) (int64, error) {
	if p == nil {
		return 0, errors.New("project is nil")
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO projects(name, base_url) VALUES(?, ?)",
		p.Name, sql.NullString{String: p.BaseURL, Valid: p.BaseURL != ""},
	)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return res.LastInsertId()
}

func (s *SqlStore) CreateModule(ctx context.Context, m *Module) (int64, error) {
	if m == nil {
		return 0, errors.New("module is nil")
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO modules(project_id, name) VALUES(?, ?)", m.ProjectID, m.Name,
	)
	if err != nil {
		return 0, fmt.Errorf("insert module: %w", err)
	}
	return res.LastInsertId()
}

func (s *SqlStore) CreateElement(ctx context.Context, e *Element) (int64, error) {
	if e == nil {
		return 0, errors.New("element is nil")
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO page_elements(name, locator_type, locator_value) VALUES(?, ?, ?)",
		e.Name, e.LocatorType, e.LocatorValue,
	)
	if err != nil {
		return 0, fmt.Errorf("insert element: %w", err)
	}
	return res.LastInsertId()
}

func (s *SqlStore) CreateCase(ctx context.Context, c *Case) (int64, error) {
	if c == nil {
		return 0, errors.New("case is nil")
	}
	steps := c.Steps
	if steps == nil {
		steps = []Step{}
	}
	payload, err := json.Marshal(steps)
	if err != nil {
		return 0, fmt.Errorf("marshal steps: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO test_cases(module_id, name, steps, created_at) VALUES(?, ?, ?, ?)",
		c.ModuleID, c.Name, string(payload), nowUTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert case: %w", err)
	}
	return res.LastInsertId()
}

func (s *SqlStore) CreateSuite(ctx context.Context, suite *Suite) (int64, error) {
	if suite == nil {
		return 0, errors.New("suite is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO test_suites(project_id, name, created_at) VALUES(?, ?, ?)",
		suite.ProjectID, suite.Name, nowUTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert suite: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	for i, c := range suite.Cases {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO test_suite_cases(suite_id, case_id, position) VALUES(?, ?, ?)",
			id, c.ID, i,
		); err != nil {
			return 0, fmt.Errorf("link case %d: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit suite: %w", err)
	}
	return id, nil
}

func (s *SqlStore) CreateReport(ctx context.Context, r *Report) (int64, error) {
	if r == nil {
		return 0, errors.New("report is nil")
	}
	if r.CaseID != 0 && r.SuiteID != 0 {
		return 0, errors.New("report links both a case and a suite")
	}
	createdAt := r.CreatedAt
	if createdAt == "" {
		createdAt = nowUTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO test_reports(test_case_id, test_suite_id, executor_id, report_path, status,
			browser_type, headless, error_message, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullID(r.CaseID), nullID(r.SuiteID), nullID(r.ExecutorID), r.Path, r.Status,
		r.BrowserType, r.Headless, sql.NullString{String: r.ErrorMessage, Valid: r.ErrorMessage != ""}, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return res.LastInsertId()
}

const reportColumns = `id, test_case_id, test_suite_id, executor_id, report_path, status,
	browser_type, headless, error_message, created_at`

func scanReport(row interface{ Scan(...any) error }) (*Report, error) {
	var r Report
	var caseID, suiteID, executorID sql.NullInt64
	var errMsg sql.NullString
	if err := row.Scan(&r.ID, &caseID, &suiteID, &executorID, &r.Path, &r.Status,
		&r.BrowserType, &r.Headless, &errMsg, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.CaseID = caseID.Int64
	r.SuiteID = suiteID.Int64
	r.ExecutorID = executorID.Int64
	r.ErrorMessage = nullStr(errMsg)
	return &r, nil
}

func (s *SqlStore) GetReport(ctx context.Context, id int64) (*Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx,
		"SELECT "+reportColumns+" FROM test_reports WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report %d: %w", id, err)
	}
	return r, nil
}

func (s *SqlStore) ListReports(ctx context.Context, offset, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+reportColumns+" FROM test_reports ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var out []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqlStore) DeleteReport(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM test_reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete report %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete report %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("report %d: %w", id, ErrNotFound)
	}
	return nil
}

// connHandle is a Handle backed by one pinned *sql.Conn.
type connHandle struct {
	conn *sql.Conn
}

func (h *connHandle) GetCase(ctx context.Context, id int64) (*Case, error) {
	return getCase(ctx, h.conn, id)
}

func (h *connHandle) GetElement(ctx context.Context, id int64) (*Element, error) {
	return getElement(ctx, h.conn, id)
}

func (h *connHandle) GetSuite(ctx context.Context, id int64) (*Suite, error) {
	return getSuite(ctx, h.conn, id)
}

func (h *connHandle) Close() error {
	return h.conn.Close()
}

func getCase(ctx context.Context, q queryer, id int64) (*Case, error) {
	var c Case
	var steps string
	var baseURL sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT c.id, c.module_id, c.name, c.steps, p.base_url
		 FROM test_cases c
		 LEFT JOIN modules m ON m.id = c.module_id
		 LEFT JOIN projects p ON p.id = m.project_id
		 WHERE c.id = ?`, id,
	).Scan(&c.ID, &c.ModuleID, &c.Name, &steps, &baseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get case %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(steps), &c.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of case %d: %w", id, err)
	}
	c.BaseURL = nullStr(baseURL)
	return &c, nil
}

func getElement(ctx context.Context, q queryer, id int64) (*Element, error) {
	var e Element
	err := q.QueryRowContext(ctx,
		"SELECT id, name, locator_type, locator_value FROM page_elements WHERE id = ?", id,
	).Scan(&e.ID, &e.Name, &e.LocatorType, &e.LocatorValue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get element %d: %w", id, err)
	}
	return &e, nil
}

func getSuite(ctx context.Context, q queryer, id int64) (*Suite, error) {
	var s Suite
	err := q.QueryRowContext(ctx,
		"SELECT id, project_id, name FROM test_suites WHERE id = ?", id,
	).Scan(&s.ID, &s.ProjectID, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suite %d: %w", id, err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT c.id, c.name FROM test_suite_cases sc
		 JOIN test_cases c ON c.id = sc.case_id
		 WHERE sc.suite_id = ?
		 ORDER BY sc.position`, id)
	if err != nil {
		return nil, fmt.Errorf("list members of suite %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref CaseRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan suite member: %w", err)
		}
		s.Cases = append(s.Cases, ref)
	}
	return &s, rows.Err()
}
