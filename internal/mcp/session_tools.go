package mcp

import (
	"context"
	"fmt"

	"browserpilot-mcp-server/internal/browser"
)

// LaunchBrowserToolName is special-cased by Dispatch: its result is the
// session id the call should be attributed to.
const LaunchBrowserToolName = "Launch Browser"

// OpenPageToolName is special-cased the same way for the new page id.
const OpenPageToolName = "Open Page"

type LaunchBrowserTool struct {
	toolDeps
	headless       bool
	viewportWidth  int
	viewportHeight int
}

func (t *LaunchBrowserTool) Name() string { return LaunchBrowserToolName }
func (t *LaunchBrowserTool) Description() string {
	return `Launch a new isolated browser (own process, own cookies and storage).

WORKFLOW:
1. Launch Browser -> session_id
2. Open Page with that session_id -> page_id
3. Pass both ids to every other tool

Returns: the session_id string.`
}
func (t *LaunchBrowserTool) Params() []Param {
	return []Param{
		{Name: "headless", Type: TypeBoolean, Description: "Run without a visible window", Default: t.headless},
		{Name: "viewport_width", Type: TypeInteger, Description: "Viewport width in CSS pixels", Default: t.viewportWidth},
		{Name: "viewport_height", Type: TypeInteger, Description: "Viewport height in CSS pixels", Default: t.viewportHeight},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	width := args.Int("viewport_width", t.viewportWidth)
	height := args.Int("viewport_height", t.viewportHeight)
	if width <= 0 || height <= 0 {
		return nil, &ArgError{Name: "viewport_width", Reason: fmt.Sprintf("viewport must be positive, got %dx%d", width, height)}
	}
	return t.sessions.CreateSession(ctx, browser.LaunchOptions{
		Headless: args.Bool("headless", t.headless),
		Viewport: browser.Viewport{Width: width, Height: height},
	})
}

type OpenPageTool struct {
	toolDeps
}

func (t *OpenPageTool) Name() string { return OpenPageToolName }
func (t *OpenPageTool) Description() string {
	return `Open a new tab in a session and navigate it to url.

The page is registered even if navigation fails; the error then names the
page_id so you can retry with Change Page.

Returns: the page_id string.`
}
func (t *OpenPageTool) Params() []Param {
	return []Param{
		sessionIDParam,
		{Name: "url", Type: TypeString, Description: "Absolute URL to load", Required: true},
		waitUntilParam,
	}
}
func (t *OpenPageTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	sessionID := args.String("session_id")
	sess, ok := t.sessions.GetSession(sessionID)
	if !ok {
		return nil, browser.UnknownSession(sessionID)
	}
	wait, err := browser.ParseWaitUntil(args.String("wait_until"))
	if err != nil {
		return nil, err
	}

	page, err := sess.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	navCtx, cancel := t.navigationContext(ctx)
	navErr := page.Navigate(navCtx, args.String("url"), wait)
	cancel()

	pageID, ok := t.sessions.AddPage(sessionID, page)
	if !ok {
		return nil, browser.UnknownSession(sessionID)
	}
	if navErr != nil {
		return nil, fmt.Errorf("page %s opened but navigation failed: %w", pageID, navErr)
	}
	return pageID, nil
}

type ChangePageTool struct {
	toolDeps
}

func (t *ChangePageTool) Name() string { return "Change Page" }
func (t *ChangePageTool) Description() string {
	return `Navigate an existing page to a new url. The page_id stays the same.

Returns: "ok".`
}
func (t *ChangePageTool) Params() []Param {
	return pageParams(
		Param{Name: "url", Type: TypeString, Description: "Absolute URL to load", Required: true},
		waitUntilParam,
	)
}
func (t *ChangePageTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	page, err := t.page(args)
	if err != nil {
		return nil, err
	}
	wait, err := browser.ParseWaitUntil(args.String("wait_until"))
	if err != nil {
		return nil, err
	}

	navCtx, cancel := t.navigationContext(ctx)
	defer cancel()
	if err := page.Navigate(navCtx, args.String("url"), wait); err != nil {
		return nil, err
	}
	return "ok", nil
}

type CloseBrowserTool struct {
	toolDeps
}

func (t *CloseBrowserTool) Name() string { return "Close Browser" }
func (t *CloseBrowserTool) Description() string {
	return `Close a session and its browser process. All of its pages become invalid.
Closing an unknown or already closed session is not an error.

Returns: "ok".`
}
func (t *CloseBrowserTool) Params() []Param {
	return []Param{sessionIDParam}
}
func (t *CloseBrowserTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	if err := t.sessions.CloseSession(ctx, args.String("session_id")); err != nil {
		return nil, err
	}
	return "ok", nil
}

type ListSessionsTool struct {
	toolDeps
}

func (t *ListSessionsTool) Name() string { return "List Sessions" }
func (t *ListSessionsTool) Description() string {
	return `List live sessions with their page ids.

Returns: array of {id, headless, viewport, pages, created_at}.`
}
func (t *ListSessionsTool) Params() []Param { return nil }
func (t *ListSessionsTool) Execute(_ context.Context, _ Args) (interface{}, error) {
	return t.sessions.List(), nil
}
