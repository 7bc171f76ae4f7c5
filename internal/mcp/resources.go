package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"browserpilot-mcp-server/internal/journal"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"

	defaultFactLimit = 25
	maxFactLimit     = 500
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"browserpilot://about",
			"BrowserPilot About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server name, version and the tool catalog."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"browserpilot://sessions",
			"Live Sessions",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Live browser sessions with their page ids."),
		),
		s.handleSessionsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"browserpilot://session/{sessionId}/facts{?predicate,limit}",
			"Session Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Recent journal facts for one session, optionally filtered by predicate. Rule-derived predicates such as failed_call are evaluated on read."),
		),
		s.handleSessionFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"tools":   s.sortedToolNames(),
		"notes": []string{
			"Launch Browser returns a session_id; Open Page returns a page_id scoped to that session.",
			"Failures come back as text starting with \"error: \".",
			"Sessions idle past the configured max age are closed automatically.",
		},
		"journal_enabled": s.journal.Ready(),
		"timestamp_ms":    time.Now().UnixMilli(),
	}
	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleSessionsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessions := s.sessions.List()
	return jsonResource(request.Params.URI, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleSessionFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if !s.journal.Ready() {
		return nil, fmt.Errorf("journal unavailable")
	}

	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := clampFactLimit(asInt(request.Params.Arguments["limit"]))

	var facts []journal.Fact
	if predicate != "" && s.journal.IsDerived(predicate) {
		derived, err := s.journal.DerivedSessionFacts(sessionID, predicate, limit)
		if err != nil {
			return nil, err
		}
		facts = derived
	} else {
		facts = s.journal.SessionFacts(sessionID, predicate, limit)
	}
	return jsonResource(request.Params.URI, map[string]interface{}{
		"session_id": sessionID,
		"predicate":  predicate,
		"limit":      limit,
		"count":      len(facts),
		"facts":      facts,
	})
}

func clampFactLimit(limit int) int {
	if limit <= 0 {
		return defaultFactLimit
	}
	if limit > maxFactLimit {
		return maxFactLimit
	}
	return limit
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}
