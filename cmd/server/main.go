package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"browserpilot-mcp-server/internal/browser"
	"browserpilot-mcp-server/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath   string
	ssePort      int
	noWorkspace  bool
	workspaceDir string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "browserpilot",
		Short: "MCP server that drives isolated Chrome sessions",
		Long: `browserpilot serves a fixed set of browser tools over MCP.

Each Launch Browser call starts its own Chrome process; pages are addressed by
session_id and page_id. Without --sse-port the server speaks MCP on stdio and
writes its log to the configured log file.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, flags, cmd.ErrOrStderr())
		},
	}

	root.Flags().StringVar(&flags.configPath, "config", "", "Path to a config file, layered over the workspace config")
	root.Flags().IntVar(&flags.ssePort, "sse-port", 0, "Serve MCP over SSE on this port instead of stdio")
	root.Flags().BoolVar(&flags.noWorkspace, "no-workspace", false, "Skip .browserpilot/ workspace discovery")
	root.Flags().StringVar(&flags.workspaceDir, "workspace-dir", "", "Use this directory as the workspace root instead of searching upward")

	root.AddCommand(newInitCmd())
	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a .browserpilot/ workspace with a config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if err := config.InitWorkspace(abs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace in %s\n",
				filepath.Join(abs, config.WorkspaceDirName))
			return nil
		},
	}
}

func serve(ctx context.Context, flags *rootFlags, stderr io.Writer) error {
	cfg, wsDir, err := config.LoadWithWorkspace(flags.configPath, config.WorkspaceOptions{
		Disable:     flags.noWorkspace,
		ExplicitDir: flags.workspaceDir,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.ssePort != 0 {
		cfg.MCP.SSEPort = flags.ssePort
	}

	logger, closeLog := newLogger(cfg, stderr)
	defer closeLog()
	if wsDir != "" {
		logger.WithField("workspace", wsDir).Info("using workspace config")
	}

	driver := &browser.RodDriver{
		Bin:           cfg.Browser.Bin,
		Flags:         cfg.Browser.LaunchFlags,
		ActionTimeout: cfg.Browser.ActionTimeoutDuration(),
		Log:           logger.WithField("component", "rod"),
	}
	rt, err := newApp(cfg, driver, logger)
	if err != nil {
		return err
	}

	serveErr := rt.serve(ctx, cfg.MCP.SSEPort)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logger.WithError(serveErr).Error("server exited with error")
	} else {
		serveErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, rt.shutdown(shutdownCtx))
}

// newLogger sends output to the log file in stdio mode, since anything on
// stdout or stderr would corrupt the MCP stream.
func newLogger(cfg config.Config, stderr io.Writer) (*logrus.Logger, func()) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	if cfg.MCP.SSEPort > 0 {
		logger.SetOutput(stderr)
		return logger, func() {}
	}
	if cfg.Server.LogFile == "" {
		logger.SetOutput(io.Discard)
		return logger, func() {}
	}

	if dir := filepath.Dir(cfg.Server.LogFile); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.SetOutput(io.Discard)
		return logger, func() {}
	}
	logger.SetOutput(f)
	return logger, func() { _ = f.Close() }
}
