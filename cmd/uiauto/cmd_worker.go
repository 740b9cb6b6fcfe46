package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hanwenlu2016/ui-auto-new/internal/dispatch"
)

func newWorkerCmd(a *app) *cobra.Command {
	var opts dispatch.WorkerOptions
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Execute tasks queued in Redis",
		Long: `Pops run_case/run_suite tasks from Redis (redis_url) and executes them
with the local engine. Finished task states expire after --result-ttl.
A task is removed from the queue before it runs; if the worker dies
mid-run its state expires after --running-ttl instead of being retried.
SIGINT/SIGTERM stop polling; a task already running is finished first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := a.redisClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}
			if metricsAddr != "" {
				stopMetrics := startMetrics(metricsAddr)
				defer stopMetrics()
			}

			eng, release := a.newEngine(st)
			defer release()
			w := dispatch.NewWorker(client, dispatch.EngineHandler(eng), opts)
			return w.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Concurrency, "concurrency", 1, "tasks executed at once")
	f.DurationVar(&opts.PollTimeout, "poll-timeout", 5*time.Second, "blocking pop timeout")
	f.DurationVar(&opts.ResultTTL, "result-ttl", dispatch.DefaultResultTTL, "how long finished task states are kept")
	f.DurationVar(&opts.RunningTTL, "running-ttl", dispatch.DefaultResultTTL, "how long a running task state survives a crashed worker")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default from config)")
	return cmd
}

func (a *app) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	if a.cfg.RedisURL == "" {
		return nil, errors.New("redis_url is not configured (set it in the config file or UIAUTO_REDIS_URL)")
	}
	client, err := dispatch.NewRedisClient(a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if err := dispatch.CheckRedisConnection(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
