// Package format renders run results and report listings as terminal or
// Markdown tables.
package format

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // box-drawn terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ParseMode maps "table"/"ascii" and "markdown"/"md" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "table", "ascii":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	}
	return ASCII, fmt.Errorf("unknown table format %q", s)
}

// ColumnAlign specifies the horizontal alignment for a column.
type ColumnAlign int

const (
	AlignDefault ColumnAlign = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// ColumnConfig controls per-column formatting.
type ColumnConfig struct {
	Number   int // 1-based
	Align    ColumnAlign
	MaxWidth int // 0 = unlimited
}

// TableBuilder builds a table once and renders it in the Mode chosen at
// creation.
type TableBuilder interface {
	Header(cols ...string)
	// Row appends a data row; values are printed with fmt.Sprint.
	Row(vals ...any)
	Footer(vals ...any)
	Columns(cfgs ...ColumnConfig)
	String() string
}

// NewTable returns a TableBuilder backed by go-pretty.
func NewTable(m Mode) TableBuilder {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return &prettyTable{writer: w, mode: m}
}

type prettyTable struct {
	writer table.Writer
	mode   Mode
}

func (p *prettyTable) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	p.writer.AppendHeader(row)
}

func (p *prettyTable) Row(vals ...any) {
	p.writer.AppendRow(table.Row(vals))
}

func (p *prettyTable) Footer(vals ...any) {
	p.writer.AppendFooter(table.Row(vals))
}

func (p *prettyTable) Columns(cfgs ...ColumnConfig) {
	out := make([]table.ColumnConfig, len(cfgs))
	for i, c := range cfgs {
		out[i] = table.ColumnConfig{Number: c.Number, Align: textAlign(c.Align), WidthMax: c.MaxWidth}
	}
	p.writer.SetColumnConfigs(out)
}

func (p *prettyTable) String() string {
	if p.mode == Markdown {
		return p.writer.RenderMarkdown()
	}
	return p.writer.Render()
}

func textAlign(a ColumnAlign) text.Align {
	switch a {
	case AlignLeft:
		return text.AlignLeft
	case AlignRight:
		return text.AlignRight
	case AlignCenter:
		return text.AlignCenter
	}
	return text.AlignDefault
}
