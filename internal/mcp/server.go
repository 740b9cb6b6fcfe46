// Package mcp exposes the task boundary as MCP tools: enqueue case and
// suite runs, poll their status, and list or delete reports.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hanwenlu2016/ui-auto-new/internal/dispatch"
	"github.com/hanwenlu2016/ui-auto-new/internal/engine"
	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
	"github.com/hanwenlu2016/ui-auto-new/internal/report"
)

var (
	// MaxStatusWait caps get_task_status wait_ms.
	MaxStatusWait = 5 * time.Minute
	// StatusPollInterval is how often a waiting get_task_status re-polls.
	StatusPollInterval = 200 * time.Millisecond
)

// Reports is the report surface the tools need.
type Reports interface {
	List(ctx context.Context, offset, limit int) ([]report.View, error)
	Delete(ctx context.Context, id int64) error
}

// Server wraps the MCP SDK server.
type Server struct {
	MCPServer *sdkmcp.Server

	queue   dispatch.Queue
	reports Reports
}

// NewServer registers the tools against q and reports.
func NewServer(q dispatch.Queue, reports Reports, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{queue: q, reports: reports}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "uiauto", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_case",
		Description: "Enqueue a run of one test case. Returns a task ID to poll with get_task_status.",
	}, s.handleRunCase)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_suite",
		Description: "Enqueue a run of every case in a suite, executed concurrently, with one consolidated report.",
	}, s.handleRunSuite)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_task_status",
		Description: "Get a task's status (pending, running, success, failure) and, once finished, its result payload.",
	}, s.handleGetTaskStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_reports",
		Description: "List stored reports, newest first, with their report URLs.",
	}, s.handleListReports)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "delete_report",
		Description: "Delete a report record and its rendered directory.",
	}, s.handleDeleteReport)
}

// --- Tool input/output types ---

type runCaseInput struct {
	CaseID      int64  `json:"case_id" jsonschema:"test case ID"`
	BrowserType string `json:"browser_type,omitempty" jsonschema:"chromium, firefox or webkit (default from config)"`
	Headless    *bool  `json:"headless,omitempty" jsonschema:"run without a visible window (default from config)"`
	ReportName  string `json:"report_name,omitempty" jsonschema:"explicit report name; a timestamp is appended"`
	ExecutorID  int64  `json:"executor_id,omitempty" jsonschema:"id of the user the report is attributed to"`
}

type runSuiteInput struct {
	SuiteID     int64  `json:"suite_id" jsonschema:"test suite ID"`
	BrowserType string `json:"browser_type,omitempty" jsonschema:"chromium, firefox or webkit (default from config)"`
	Headless    *bool  `json:"headless,omitempty" jsonschema:"run without a visible window (default from config)"`
	ReportName  string `json:"report_name,omitempty" jsonschema:"explicit report name; defaults to the suite name"`
	ExecutorID  int64  `json:"executor_id,omitempty" jsonschema:"id of the user the report is attributed to"`
}

type enqueueOutput struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type getTaskStatusInput struct {
	TaskID string `json:"task_id" jsonschema:"task ID from run_case or run_suite"`
	WaitMS int    `json:"wait_ms,omitempty" jsonschema:"wait up to this many milliseconds for the task to finish (0 = return immediately)"`
}

type getTaskStatusOutput struct {
	TaskID     string `json:"task_id"`
	Kind       string `json:"kind"`
	TargetID   int64  `json:"target_id"`
	Status     string `json:"status"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type listReportsInput struct {
	Offset int `json:"offset,omitempty" jsonschema:"number of reports to skip"`
	Limit  int `json:"limit,omitempty" jsonschema:"maximum number of reports (default 100)"`
}

type listReportsOutput struct {
	Reports []report.View `json:"reports"`
	Count   int           `json:"count"`
}

type deleteReportInput struct {
	ReportID int64 `json:"report_id" jsonschema:"report ID"`
}

type deleteReportOutput struct {
	OK string `json:"ok"`
}

// --- Tool handlers ---

func (s *Server) handleRunCase(ctx context.Context, _ *sdkmcp.CallToolRequest, input runCaseInput) (*sdkmcp.CallToolResult, enqueueOutput, error) {
	return s.enqueue(ctx, dispatch.Task{
		Kind:       dispatch.KindCase,
		TargetID:   input.CaseID,
		Options:    engine.RunOptions{BrowserType: input.BrowserType, Headless: input.Headless, ReportName: input.ReportName},
		ExecutorID: input.ExecutorID,
	})
}

func (s *Server) handleRunSuite(ctx context.Context, _ *sdkmcp.CallToolRequest, input runSuiteInput) (*sdkmcp.CallToolResult, enqueueOutput, error) {
	return s.enqueue(ctx, dispatch.Task{
		Kind:       dispatch.KindSuite,
		TargetID:   input.SuiteID,
		Options:    engine.RunOptions{BrowserType: input.BrowserType, Headless: input.Headless, ReportName: input.ReportName},
		ExecutorID: input.ExecutorID,
	})
}

func (s *Server) enqueue(ctx context.Context, t dispatch.Task) (*sdkmcp.CallToolResult, enqueueOutput, error) {
	id, err := s.queue.Enqueue(ctx, t)
	if err != nil {
		return nil, enqueueOutput{}, fmt.Errorf("run_%s: %w", t.Kind, err)
	}
	logging.New("mcp").Info("task enqueued", "task_id", id, "kind", t.Kind, "target_id", t.TargetID)
	return nil, enqueueOutput{TaskID: id, Status: string(dispatch.StatusPending)}, nil
}

func (s *Server) handleGetTaskStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, input getTaskStatusInput) (*sdkmcp.CallToolResult, getTaskStatusOutput, error) {
	wait := time.Duration(input.WaitMS) * time.Millisecond
	if wait > MaxStatusWait {
		wait = MaxStatusWait
	}
	deadline := time.Now().Add(wait)

	for {
		st, err := s.queue.Poll(ctx, input.TaskID)
		if errors.Is(err, dispatch.ErrTaskNotFound) {
			return nil, getTaskStatusOutput{}, fmt.Errorf("task %q not found", input.TaskID)
		}
		if err != nil {
			return nil, getTaskStatusOutput{}, err
		}
		if st.Status.Done() || !time.Now().Before(deadline) {
			out, err := statusOutput(st)
			return nil, out, err
		}
		select {
		case <-ctx.Done():
			return nil, getTaskStatusOutput{}, ctx.Err()
		case <-time.After(StatusPollInterval):
		}
	}
}

func statusOutput(st *dispatch.TaskState) (getTaskStatusOutput, error) {
	out := getTaskStatusOutput{
		TaskID:     st.ID,
		Kind:       string(st.Kind),
		TargetID:   st.TargetID,
		Status:     string(st.Status),
		Error:      st.Error,
		CreatedAt:  st.CreatedAt,
		StartedAt:  st.StartedAt,
		FinishedAt: st.FinishedAt,
	}
	if len(st.Result) > 0 {
		if err := json.Unmarshal(st.Result, &out.Result); err != nil {
			return out, fmt.Errorf("decode task result: %w", err)
		}
	}
	return out, nil
}

func (s *Server) handleListReports(ctx context.Context, _ *sdkmcp.CallToolRequest, input listReportsInput) (*sdkmcp.CallToolResult, listReportsOutput, error) {
	views, err := s.reports.List(ctx, input.Offset, input.Limit)
	if err != nil {
		return nil, listReportsOutput{}, fmt.Errorf("list reports: %w", err)
	}
	return nil, listReportsOutput{Reports: views, Count: len(views)}, nil
}

func (s *Server) handleDeleteReport(ctx context.Context, _ *sdkmcp.CallToolRequest, input deleteReportInput) (*sdkmcp.CallToolResult, deleteReportOutput, error) {
	if err := s.reports.Delete(ctx, input.ReportID); err != nil {
		return nil, deleteReportOutput{}, err
	}
	return nil, deleteReportOutput{OK: fmt.Sprintf("report %d deleted", input.ReportID)}, nil
}
