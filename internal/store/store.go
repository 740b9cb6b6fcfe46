package store

import (
	"context"
	"time"
)

// DefaultDBPath is the default relative path for the SQLite DB.
// Open() creates the parent dir (e.g. .uiauto).
const DefaultDBPath = ".uiauto/uiauto.db"

// Report statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Project owns modules and suites. BaseURL is optional.
type Project struct {
	ID      int64
	Name    string
	BaseURL string
}

// Module groups cases under a project.
type Module struct {
	ID        int64
	ProjectID int64
	Name      string
}

// Element is a named locator that steps reference by id.
type Element struct {
	ID           int64
	Name         string
	LocatorType  string // css, xpath, id, name, text
	LocatorValue string
}

// Step is one abstract browser action as stored in a case.
type Step struct {
	Action      string `json:"action" yaml:"action"`
	ElementID   *int64 `json:"element_id,omitempty" yaml:"element_id,omitempty"`
	Value       string `json:"value,omitempty" yaml:"value,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Case is an ordered list of steps. BaseURL is resolved from the owning
// project through the module on read; it is not stored on the case.
type Case struct {
	ID       int64
	ModuleID int64
	Name     string
	Steps    []Step
	BaseURL  string
}

// CaseRef is a suite member as seen at dispatch time.
type CaseRef struct {
	ID   int64
	Name string
}

// Suite is a named, ordered collection of cases.
type Suite struct {
	ID        int64
	ProjectID int64
	Name      string
	Cases     []CaseRef
}

// Report is the persisted record of one case or suite run.
// CaseID and SuiteID are mutually exclusive; 0 means not linked.
type Report struct {
	ID           int64
	CaseID       int64
	SuiteID      int64
	ExecutorID   int64 // 0 means unknown
	Path         string
	Status       string
	BrowserType  string
	Headless     bool
	ErrorMessage string
	CreatedAt    string
}

// Reader is the read side a single run needs.
// Lookups of missing rows return (nil, nil).
type Reader interface {
	GetCase(ctx context.Context, id int64) (*Case, error)
	GetElement(ctx context.Context, id int64) (*Element, error)
	GetSuite(ctx context.Context, id int64) (*Suite, error)
}

// Handle is an isolated data-access handle owned by exactly one run.
// It must be closed by its owner.
type Handle interface {
	Reader
	Close() error
}

// Store is the persistence facade used by the engine, the report builder
// and the fixture loader. Implementations are SQLite or in-memory.
type Store interface {
	Reader

	// Acquire returns a handle that does not share a connection with any
	// other handle handed out concurrently.
	Acquire(ctx context.Context) (Handle, error)

	CreateProject(ctx context.Context, p *Project) (int64, error)
	CreateModule(ctx context.Context, m *Module) (int64, error)
	CreateElement(ctx context.Context, e *Element) (int64, error)
	CreateCase(ctx context.Context, c *Case) (int64, error)
	CreateSuite(ctx context.Context, s *Suite) (int64, error)

	CreateReport(ctx context.Context, r *Report) (int64, error)
	GetReport(ctx context.Context, id int64) (*Report, error)
	ListReports(ctx context.Context, offset, limit int) ([]*Report, error)
	DeleteReport(ctx context.Context, id int64) error

	Close() error
}

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
