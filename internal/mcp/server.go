package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"browserpilot-mcp-server/internal/browser"
	"browserpilot-mcp-server/internal/config"
	"browserpilot-mcp-server/internal/journal"
	"browserpilot-mcp-server/internal/recorder"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

// errorPrefix starts every in-band failure result.
const errorPrefix = "error: "

// Server wires the MCP runtime to the session registry and owns the tool catalog.
type Server struct {
	cfg       config.Config
	sessions  *browser.Registry
	journal   *journal.Engine
	recorder  *recorder.Recorder
	log       logrus.FieldLogger
	tools     map[string]Tool
	order     []string
	mcpServer *mcpserver.MCPServer
}

// Tool is one named operation in the catalog. Execute receives arguments
// already validated against Params, with defaults filled in.
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Execute(ctx context.Context, args Args) (interface{}, error)
}

// NewServer constructs the MCP server and registers the tool catalog.
// journal and rec may be nil.
func NewServer(cfg config.Config, sessions *browser.Registry, engine *journal.Engine, rec *recorder.Recorder, logger logrus.FieldLogger) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("session registry is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	s := &Server{
		cfg:       cfg,
		sessions:  sessions,
		journal:   engine,
		recorder:  rec,
		log:       logger.WithField("component", "dispatcher"),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	s.registerAllTools()
	s.registerAllResources()
	return s, nil
}

// Start serves MCP over stdio.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Tools lists registered tool names in registration order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.order...)
}

func (s *Server) registerAllTools() {
	deps := toolDeps{
		sessions:      s.sessions,
		navTimeout:    s.cfg.Browser.NavigationTimeoutDuration(),
		actionTimeout: s.cfg.Browser.ActionTimeoutDuration(),
	}

	// Session lifecycle
	s.registerTool(&LaunchBrowserTool{
		toolDeps:       deps,
		headless:       s.cfg.Browser.IsHeadless(),
		viewportWidth:  s.cfg.Browser.GetViewportWidth(),
		viewportHeight: s.cfg.Browser.GetViewportHeight(),
	})
	s.registerTool(&OpenPageTool{toolDeps: deps})
	s.registerTool(&ChangePageTool{toolDeps: deps})
	s.registerTool(&CloseBrowserTool{toolDeps: deps})
	s.registerTool(&ListSessionsTool{toolDeps: deps})

	// Observation
	s.registerTool(&TakeScreenshotTool{toolDeps: deps})
	s.registerTool(&QueryElementsTool{toolDeps: deps})

	// Interaction
	s.registerTool(&FillInputTool{toolDeps: deps})
	s.registerTool(&ClickElementTool{toolDeps: deps})
	s.registerTool(&ClickAtCoordinatesTool{toolDeps: deps})
	s.registerTool(&DoubleClickTool{toolDeps: deps})
	s.registerTool(&ScrollToTool{toolDeps: deps})
	s.registerTool(&SendKeysTool{toolDeps: deps})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool
	s.order = append(s.order, tool.Name())

	schema, err := json.Marshal(inputSchema(tool.Params(), true))
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := s.Dispatch(ctx, tool.Name(), args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		if text, ok := result.(string); ok {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(text)},
				IsError: IsErrorResult(text),
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

// Dispatch runs one tool call. Recoverable failures, panics included, come
// back as an "error: <reason>" string result. The returned error is non-nil
// only when a browser could not be launched.
func (s *Server) Dispatch(ctx context.Context, name string, raw map[string]interface{}) (interface{}, error) {
	tool, ok := s.tools[name]
	if !ok {
		return errorResult(fmt.Errorf("unknown tool %s", name)), nil
	}

	start := time.Now()
	result, err := s.invoke(ctx, tool, raw)

	sessionID, _ := raw["session_id"].(string)
	pageID, _ := raw["page_id"].(string)
	if err == nil {
		switch {
		case name == LaunchBrowserToolName && sessionID == "":
			sessionID, _ = result.(string)
		case name == OpenPageToolName && pageID == "":
			pageID, _ = result.(string)
		}
	}

	var launchErr *browser.LaunchError
	fatal := err != nil && errors.As(err, &launchErr)
	if err != nil && !fatal {
		result = errorResult(err)
	}

	outcome, errText := "ok", ""
	if err != nil {
		outcome, errText = "error", err.Error()
	}

	entry := s.log.WithFields(logrus.Fields{
		"tool":        name,
		"session_id":  sessionID,
		"page_id":     pageID,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("tool call failed")
	} else {
		entry.Debug("tool call")
	}

	s.recorder.Record(recorder.Call{
		Tool:       name,
		SessionID:  sessionID,
		PageID:     pageID,
		Outcome:    outcome,
		Error:      errText,
		DurationMs: time.Since(start).Milliseconds(),
	})
	if sessionID != "" {
		_ = s.journal.AddFacts(ctx, []journal.Fact{{
			Predicate: journal.PredToolCall,
			Args:      []interface{}{sessionID, name, outcome},
			Timestamp: time.Now(),
		}})
	}

	if fatal {
		return nil, err
	}
	return result, nil
}

func (s *Server) invoke(ctx context.Context, tool Tool, raw map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{
				"tool":  tool.Name(),
				"panic": r,
			}).Error("tool panicked\n" + string(debug.Stack()))
			result, err = nil, fmt.Errorf("internal error in %s: %v", tool.Name(), r)
		}
	}()

	args, err := bindArgs(tool.Params(), true, raw)
	if err != nil {
		return nil, err
	}
	return tool.Execute(ctx, args)
}

// IsErrorResult reports whether a dispatch result is an in-band failure.
func IsErrorResult(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, errorPrefix)
}

func errorResult(err error) string {
	return errorPrefix + err.Error()
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}
	return []byte(strconv.Quote(errorResult(fmt.Errorf("tool %s returned non-serializable payload: %v", toolName, marshalErr))))
}

// sortedToolNames is used by the about resource.
func (s *Server) sortedToolNames() []string {
	names := s.Tools()
	sort.Strings(names)
	return names
}
