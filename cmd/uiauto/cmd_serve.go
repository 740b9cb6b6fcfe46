package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hanwenlu2016/ui-auto-new/internal/dispatch"
	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
	mcpserver "github.com/hanwenlu2016/ui-auto-new/internal/mcp"
	"github.com/hanwenlu2016/ui-auto-new/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var queueKind, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Starts an MCP server over stdin/stdout exposing run_case, run_suite,
get_task_status, list_reports and delete_report.

With --queue=memory (default) tasks run inside this process. With
--queue=redis they are pushed to Redis and executed by "uiauto worker".

The server exits when its parent process goes away.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}
			return a.serve(cmd.Context(), queueKind, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&queueKind, "queue", "memory", "task queue: memory or redis")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default from config; empty disables)")
	return cmd
}

func (a *app) serve(parent context.Context, queueKind, metricsAddr string) error {
	log := logging.New("serve")
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var queue dispatch.Queue
	switch queueKind {
	case "memory":
		eng, release := a.newEngine(st)
		defer release()
		mq := dispatch.NewMemoryQueue(dispatch.EngineHandler(eng))
		defer mq.Close()
		queue = mq
	case "redis":
		client, err := a.redisClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		queue = dispatch.NewRedisQueue(client)
	default:
		return fmt.Errorf("queue %q: want memory or redis", queueKind)
	}

	if metricsAddr != "" {
		stop := startMetrics(metricsAddr)
		defer stop()
	}

	srv := mcpserver.NewServer(queue, a.newReports(st), version)
	mcpserver.WatchParent(ctx, cancel)

	log.Info("starting uiauto MCP server over stdio", "queue", queueKind, "metrics_addr", metricsAddr)
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

// startMetrics serves /metrics in the background and returns a shutdown
// func.
func startMetrics(addr string) func() {
	log := logging.New("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
