package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrRendererUnavailable is returned when the rendering tool is not installed.
var ErrRendererUnavailable = errors.New("report renderer unavailable")

// DefaultRenderTimeout bounds one render.
const DefaultRenderTimeout = 30 * time.Second

// Renderer turns a raw results directory into a browsable report in outDir.
type Renderer interface {
	Render(ctx context.Context, resultsDir, outDir string) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, resultsDir, outDir string) error

func (f RendererFunc) Render(ctx context.Context, resultsDir, outDir string) error {
	return f(ctx, resultsDir, outDir)
}

// AllureCLI renders with `allure generate <results> -o <out> --clean`.
type AllureCLI struct {
	Binary  string
	Timeout time.Duration
}

var _ Renderer = AllureCLI{}

func (a AllureCLI) Render(ctx context.Context, resultsDir, outDir string) error {
	bin := a.Binary
	if bin == "" {
		bin = "allure"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s not found in PATH", ErrRendererUnavailable, bin)
		}
		return fmt.Errorf("%w: %v", ErrRendererUnavailable, err)
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "generate", resultsDir, "-o", outDir, "--clean")
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("allure generate timed out after %s", timeout)
		}
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("allure generate: %w: %s", err, lastLine(msg))
		}
		return fmt.Errorf("allure generate: %w", err)
	}
	return nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
