package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// MemStore is an in-memory Store for tests and ephemeral runs.
// Reads return copies; callers never alias stored rows.
type MemStore struct {
	mu       sync.RWMutex
	projects map[int64]*Project
	modules  map[int64]*Module
	elements map[int64]*Element
	cases    map[int64]*Case
	suites   map[int64]*Suite
	reports  map[int64]*Report
	nextID   map[string]int64

	openHandles atomic.Int64
	acquired    atomic.Int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		projects: make(map[int64]*Project),
		modules:  make(map[int64]*Module),
		elements: make(map[int64]*Element),
		cases:    make(map[int64]*Case),
		suites:   make(map[int64]*Suite),
		reports:  make(map[int64]*Report),
		nextID:   make(map[string]int64),
	}
}

func (s *MemStore) next(table string) int64 {
	s.nextID[table]++
	return s.nextID[table]
}

// OpenHandles is the number of acquired handles not yet closed.
func (s *MemStore) OpenHandles() int64 { return s.openHandles.Load() }

// Acquired is the total number of handles handed out.
func (s *MemStore) Acquired() int64 { return s.acquired.Load() }

func (s *MemStore) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.openHandles.Add(1)
	s.acquired.Add(1)
	return &memHandle{s: s}, nil
}

func (s *MemStore) GetCase(_ context.Context, id int64) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Steps = append([]Step(nil), c.Steps...)
	if m, ok := s.modules[c.ModuleID]; ok {
		if p, ok := s.projects[m.ProjectID]; ok {
			cp.BaseURL = p.BaseURL
		}
	}
	return &cp, nil
}

func (s *MemStore) GetElement(_ context.Context, id int64) (*Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elements[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *MemStore) GetSuite(_ context.Context, id int64) (*Suite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	suite, ok := s.suites[id]
	if !ok {
		return nil, nil
	}
	cp := *suite
	cp.Cases = nil
	for _, ref := range suite.Cases {
		c, ok := s.cases[ref.ID]
		if !ok {
			continue
		}
		cp.Cases = append(cp.Cases, CaseRef{ID: c.ID, Name: c.Name})
	}
	return &cp, nil
}

func (s *MemStore) CreateProject(_ context.Context, p *Project) (int64, error) {
	if p == nil {
		return 0, errors.New("project is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.ID = s.next("projects")
	s.projects[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) CreateModule(_ context.Context, m *Module) (int64, error) {
	if m == nil {
		return 0, errors.New("module is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[m.ProjectID]; !ok {
		return 0, fmt.Errorf("project %d: %w", m.ProjectID, ErrNotFound)
	}
	cp := *m
	cp.ID = s.next("modules")
	s.modules[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) CreateElement(_ context.Context, e *Element) (int64, error) {
	if e == nil {
		return 0, errors.New("element is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.ID = s.next("elements")
	s.elements[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) CreateCase(_ context.Context, c *Case) (int64, error) {
	if c == nil {
		return 0, errors.New("case is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[c.ModuleID]; !ok {
		return 0, fmt.Errorf("module %d: %w", c.ModuleID, ErrNotFound)
	}
	cp := *c
	cp.ID = s.next("cases")
	cp.BaseURL = ""
	cp.Steps = append([]Step(nil), c.Steps...)
	s.cases[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) CreateSuite(_ context.Context, suite *Suite) (int64, error) {
	if suite == nil {
		return 0, errors.New("suite is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range suite.Cases {
		if _, ok := s.cases[ref.ID]; !ok {
			return 0, fmt.Errorf("case %d: %w", ref.ID, ErrNotFound)
		}
	}
	cp := *suite
	cp.ID = s.next("suites")
	cp.Cases = append([]CaseRef(nil), suite.Cases...)
	s.suites[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) CreateReport(_ context.Context, r *Report) (int64, error) {
	if r == nil {
		return 0, errors.New("report is nil")
	}
	if r.CaseID != 0 && r.SuiteID != 0 {
		return 0, errors.New("report links both a case and a suite")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.ID = s.next("reports")
	if cp.CreatedAt == "" {
		cp.CreatedAt = nowUTC()
	}
	s.reports[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) GetReport(_ context.Context, id int64) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) ListReports(_ context.Context, offset, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	out := make([]*Report, 0, len(s.reports))
	for _, r := range s.reports {
		cp := *r
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) DeleteReport(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return fmt.Errorf("report %d: %w", id, ErrNotFound)
	}
	delete(s.reports, id)
	return nil
}

func (s *MemStore) Close() error { return nil }

type memHandle struct {
	s      *MemStore
	closed atomic.Bool
}

var errHandleClosed = errors.New("store handle closed")

func (h *memHandle) GetCase(ctx context.Context, id int64) (*Case, error) {
	if h.closed.Load() {
		return nil, errHandleClosed
	}
	return h.s.GetCase(ctx, id)
}

func (h *memHandle) GetElement(ctx context.Context, id int64) (*Element, error) {
	if h.closed.Load() {
		return nil, errHandleClosed
	}
	return h.s.GetElement(ctx, id)
}

func (h *memHandle) GetSuite(ctx context.Context, id int64) (*Suite, error) {
	if h.closed.Load() {
		return nil, errHandleClosed
	}
	return h.s.GetSuite(ctx, id)
}

func (h *memHandle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.s.openHandles.Add(-1)
	}
	return nil
}
