package mcp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"browserpilot-mcp-server/internal/browser"
)

// toolDeps is what every tool needs: the registry and its time budgets.
type toolDeps struct {
	sessions      *browser.Registry
	navTimeout    time.Duration
	actionTimeout time.Duration
}

func (d toolDeps) navigationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.navTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.navTimeout)
}

func (d toolDeps) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.actionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.actionTimeout)
}

// page re-resolves the session and page ids on every call.
func (d toolDeps) page(args Args) (browser.Page, error) {
	return d.sessions.ResolvePage(args.String("session_id"), args.String("page_id"))
}

var (
	sessionIDParam = Param{
		Name:        "session_id",
		Type:        TypeString,
		Description: "Session id returned by Launch Browser",
		Required:    true,
	}
	pageIDParam = Param{
		Name:        "page_id",
		Type:        TypeString,
		Description: "Page id returned by Open Page, valid only with its own session_id",
		Required:    true,
	}
	waitUntilParam = Param{
		Name:        "wait_until",
		Type:        TypeString,
		Description: "Navigation milestone to wait for",
		Default:     string(browser.WaitDOMContentLoaded),
		Enum:        browser.WaitUntilValues,
	}
)

func pageParams(extra ...Param) []Param {
	return append([]Param{sessionIDParam, pageIDParam}, extra...)
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func asInt(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case float64:
		return int(value)
	default:
		n, err := strconv.Atoi(argString(v))
		if err != nil {
			return 0
		}
		return n
	}
}
