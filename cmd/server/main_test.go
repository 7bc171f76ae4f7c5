package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"browserpilot-mcp-server/internal/browser/browsertest"
	"browserpilot-mcp-server/internal/config"
	"browserpilot-mcp-server/internal/journal"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "sse-port", "no-workspace", "workspace-dir"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "init")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"init", dir})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "initialized workspace")
	_, err := os.Stat(filepath.Join(dir, config.WorkspaceDirName, config.WorkspaceConfigFile))
	assert.NoError(t, err)

	// A second init refuses to clobber the workspace.
	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"init", dir})
	assert.Error(t, cmd.Execute())
}

func TestNewLoggerStdioWritesToFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.LogFile = filepath.Join(t.TempDir(), "logs", "server.log")
	cfg.Server.LogLevel = "debug"

	var stderr bytes.Buffer
	logger, closeLog := newLogger(cfg, &stderr)
	logger.WithField("session_id", "s1").Debug("hello")
	closeLog()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.Empty(t, stderr.String())
	raw, err := os.ReadFile(cfg.Server.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "session_id=s1")
}

func TestNewLoggerSSEWritesToStderr(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MCP.SSEPort = 9999
	cfg.Server.LogFile = filepath.Join(t.TempDir(), "unused.log")

	var stderr bytes.Buffer
	logger, closeLog := newLogger(cfg, &stderr)
	defer closeLog()
	logger.Info("listening")

	assert.True(t, strings.Contains(stderr.String(), "listening"))
	_, err := os.Stat(cfg.Server.LogFile)
	assert.True(t, os.IsNotExist(err))
}

func TestAppLifecycle(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Browser.SweepInterval = "10ms"
	cfg.Browser.SessionMaxAge = "1h"
	cfg.Recorder.Enable = true
	cfg.Recorder.TraceDir = t.TempDir()

	logger, _ := test.NewNullLogger()
	drv := browsertest.NewDriver()
	a, err := newApp(cfg, drv, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a.sweeper.Start(ctx)

	res, err := a.server.Dispatch(ctx, "Launch Browser", nil)
	require.NoError(t, err)
	sid := res.(string)
	assert.Equal(t, 1, a.registry.Len())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, a.registry.Len(), "young session must survive sweeps")

	cancel()
	require.NoError(t, a.shutdown(context.Background()))
	assert.Equal(t, 0, a.registry.Len())
	assert.True(t, drv.Instances()[0].Closed())

	closed := a.journal.SessionFacts(sid, journal.PredSessionClosed, 10)
	require.Len(t, closed, 1)
	assert.Equal(t, []interface{}{sid, "shutdown"}, closed[0].Args)

	entries, err := os.ReadDir(cfg.Recorder.TraceDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestServeRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser: [not, a, map]"), 0o644))

	err := serve(context.Background(), &rootFlags{configPath: path, noWorkspace: true}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
