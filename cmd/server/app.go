package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"browserpilot-mcp-server/internal/browser"
	"browserpilot-mcp-server/internal/config"
	"browserpilot-mcp-server/internal/journal"
	mcpserver "browserpilot-mcp-server/internal/mcp"
	"browserpilot-mcp-server/internal/recorder"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

// app is everything one server process owns.
type app struct {
	log      logrus.FieldLogger
	journal  *journal.Engine
	recorder *recorder.Recorder
	registry *browser.Registry
	sweeper  *browser.Sweeper
	server   *mcpserver.Server
}

func newApp(cfg config.Config, driver browser.Driver, logger *logrus.Logger) (*app, error) {
	engine, err := journal.NewEngine(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("initialize journal: %w", err)
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enable {
		rec, err = recorder.New(cfg.Recorder.TraceDir, recorder.DefaultKeep)
		if err != nil {
			return nil, fmt.Errorf("initialize recorder: %w", err)
		}
		runID, err := rec.Start()
		if err != nil {
			return nil, fmt.Errorf("start trace: %w", err)
		}
		logger.WithField("run_id", runID).Info("recording tool calls")
	}

	registry := browser.NewRegistry(driver,
		browser.WithLogger(logger.WithField("component", "registry")),
		browser.WithFactSink(engine),
		browser.WithMaxSessions(cfg.Browser.MaxSessions),
	)

	server, err := mcpserver.NewServer(cfg, registry, engine, rec, logger)
	if err != nil {
		_ = rec.Close()
		return nil, fmt.Errorf("initialize MCP server: %w", err)
	}

	return &app{
		log:      logger,
		journal:  engine,
		recorder: rec,
		registry: registry,
		sweeper: browser.NewSweeper(registry,
			cfg.Browser.SweepIntervalDuration(),
			cfg.Browser.SessionMaxAgeDuration(),
			logger.WithField("component", "sweeper")),
		server: server,
	}, nil
}

// serve blocks until ctx is done or the transport fails.
func (rt *app) serve(ctx context.Context, ssePort int) error {
	rt.sweeper.Start(ctx)

	if ssePort > 0 {
		rt.log.WithField("port", ssePort).Info("starting browserpilot MCP SSE server")
		return rt.server.StartSSE(ctx, ssePort)
	}
	rt.log.Info("starting browserpilot MCP stdio server")
	return rt.server.Start(ctx)
}

// shutdown stops the sweeper, closes every browser, then flushes the trace.
func (rt *app) shutdown(ctx context.Context) error {
	rt.sweeper.Stop()
	regErr := rt.registry.Shutdown(ctx)
	recErr := rt.recorder.Close()
	if err := errors.Join(regErr, recErr); err != nil {
		rt.log.WithError(err).Warn("shutdown finished with errors")
		return err
	}
	rt.log.Info("shutdown complete")
	return nil
}
