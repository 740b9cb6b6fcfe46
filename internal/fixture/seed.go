package fixture

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanwenlu2016/ui-auto-new/internal/browser"
	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
	"github.com/hanwenlu2016/ui-auto-new/internal/store"
)

// IDs maps fixture names to the ids the store assigned.
type IDs struct {
	Projects map[string]int64
	Elements map[string]int64
	Cases    map[string]int64
	Suites   map[string]int64
}

// Validate checks names and references without touching a store.
func (f *Fixture) Validate() error {
	var errs []error
	elements := map[string]bool{}
	for i, e := range f.Elements {
		switch {
		case e.Name == "":
			errs = append(errs, fmt.Errorf("elements[%d]: name is required", i))
		case elements[e.Name]:
			errs = append(errs, fmt.Errorf("element %q: duplicate name", e.Name))
		}
		elements[e.Name] = true
		switch e.Locator {
		case browser.LocatorCSS, browser.LocatorXPath, browser.LocatorID, browser.LocatorName, browser.LocatorText:
		default:
			errs = append(errs, fmt.Errorf("element %q: unknown locator %q", e.Name, e.Locator))
		}
		if e.Value == "" {
			errs = append(errs, fmt.Errorf("element %q: value is required", e.Name))
		}
	}

	projects := map[string]bool{}
	cases := map[string]bool{}
	for _, p := range f.Projects {
		if p.Name == "" || projects[p.Name] {
			errs = append(errs, fmt.Errorf("project %q: name missing or duplicate", p.Name))
		}
		projects[p.Name] = true
		for _, m := range p.Modules {
			if m.Name == "" {
				errs = append(errs, fmt.Errorf("project %q: module name is required", p.Name))
			}
			for _, c := range m.Cases {
				if c.Name == "" || cases[c.Name] {
					errs = append(errs, fmt.Errorf("case %q: name missing or duplicate", c.Name))
				}
				cases[c.Name] = true
				for i, s := range c.Steps {
					if s.Action == "" {
						errs = append(errs, fmt.Errorf("case %q step %d: action is required", c.Name, i+1))
					}
					if s.Element != "" && !elements[s.Element] {
						errs = append(errs, fmt.Errorf("case %q step %d: unknown element %q", c.Name, i+1, s.Element))
					}
				}
			}
		}
	}

	suites := map[string]bool{}
	for _, s := range f.Suites {
		if s.Name == "" || suites[s.Name] {
			errs = append(errs, fmt.Errorf("suite %q: name missing or duplicate", s.Name))
		}
		suites[s.Name] = true
		if !projects[s.Project] {
			errs = append(errs, fmt.Errorf("suite %q: unknown project %q", s.Name, s.Project))
		}
		for _, c := range s.Cases {
			if !cases[c] {
				errs = append(errs, fmt.Errorf("suite %q: unknown case %q", s.Name, c))
			}
		}
	}
	return errors.Join(errs...)
}

// Seed validates f and writes it into st. Nothing is written when
// validation fails; a store error mid-way leaves earlier rows in place.
func Seed(ctx context.Context, st store.Store, f *Fixture) (*IDs, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	log := logging.New("fixture")
	ids := &IDs{
		Projects: map[string]int64{},
		Elements: map[string]int64{},
		Cases:    map[string]int64{},
		Suites:   map[string]int64{},
	}

	for _, e := range f.Elements {
		id, err := st.CreateElement(ctx, &store.Element{Name: e.Name, LocatorType: e.Locator, LocatorValue: e.Value})
		if err != nil {
			return ids, fmt.Errorf("create element %q: %w", e.Name, err)
		}
		ids.Elements[e.Name] = id
	}

	for _, p := range f.Projects {
		pid, err := st.CreateProject(ctx, &store.Project{Name: p.Name, BaseURL: p.BaseURL})
		if err != nil {
			return ids, fmt.Errorf("create project %q: %w", p.Name, err)
		}
		ids.Projects[p.Name] = pid
		for _, m := range p.Modules {
			mid, err := st.CreateModule(ctx, &store.Module{ProjectID: pid, Name: m.Name})
			if err != nil {
				return ids, fmt.Errorf("create module %q: %w", m.Name, err)
			}
			for _, c := range m.Cases {
				steps := make([]store.Step, 0, len(c.Steps))
				for _, s := range c.Steps {
					step := store.Step{Action: s.Action, Value: s.Value, Description: s.Description}
					if s.Element != "" {
						eid := ids.Elements[s.Element]
						step.ElementID = &eid
					}
					steps = append(steps, step)
				}
				cid, err := st.CreateCase(ctx, &store.Case{ModuleID: mid, Name: c.Name, Steps: steps})
				if err != nil {
					return ids, fmt.Errorf("create case %q: %w", c.Name, err)
				}
				ids.Cases[c.Name] = cid
			}
		}
	}

	for _, s := range f.Suites {
		members := make([]store.CaseRef, 0, len(s.Cases))
		for _, name := range s.Cases {
			members = append(members, store.CaseRef{ID: ids.Cases[name], Name: name})
		}
		sid, err := st.CreateSuite(ctx, &store.Suite{ProjectID: ids.Projects[s.Project], Name: s.Name, Cases: members})
		if err != nil {
			return ids, fmt.Errorf("create suite %q: %w", s.Name, err)
		}
		ids.Suites[s.Name] = sid
	}

	log.Info("fixture seeded",
		"projects", len(ids.Projects), "elements", len(ids.Elements),
		"cases", len(ids.Cases), "suites", len(ids.Suites))
	return ids, nil
}
