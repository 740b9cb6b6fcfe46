package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hanwenlu2016/ui-auto-new/internal/config"
	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
)

// app carries the loaded configuration to subcommands.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "uiauto",
		Short: "Browser UI test execution engine",
		Long: "uiauto executes stored UI test cases and suites in a browser,\n" +
			"captures per-step results and screenshots, and renders Allure reports.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "uiauto.yaml", "config file (YAML); skipped when missing")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file with UIAUTO_* overrides; skipped when missing")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json (overrides config)")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newWorkerCmd(a),
		newReportsCmd(a),
		newSeedCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q: want text or json", cfg.Log.Format)
	}
	logging.Init(level, cfg.Log.Format, cmd.ErrOrStderr())
	a.cfg = cfg
	return nil
}
