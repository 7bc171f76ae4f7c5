package mcp

import (
	"context"

	"browserpilot-mcp-server/internal/browser"
)

var (
	selectorParam = Param{Name: "selector", Type: TypeString, Description: "CSS selector matching exactly one element", Required: true}
	xParam        = Param{Name: "x", Type: TypeNumber, Description: "Viewport x in CSS pixels", Required: true}
	yParam        = Param{Name: "y", Type: TypeNumber, Description: "Viewport y in CSS pixels", Required: true}
)

type FillInputTool struct {
	toolDeps
}

func (t *FillInputTool) Name() string { return "Fill Input" }
func (t *FillInputTool) Description() string {
	return `Replace the value of an input or textarea.

The selector must match exactly one element; zero or several matches fail
without touching the page.

Returns: "ok".`
}
func (t *FillInputTool) Params() []Param {
	return pageParams(
		selectorParam,
		Param{Name: "value", Type: TypeString, Description: "Text to put in the field; empty clears it", Default: ""},
	)
}
func (t *FillInputTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	page, err := t.page(args)
	if err != nil {
		return nil, err
	}
	actCtx, cancel := t.actionContext(ctx)
	defer cancel()
	if err := page.Fill(actCtx, args.String("selector"), args.String("value")); err != nil {
		return nil, err
	}
	return "ok", nil
}

type ClickElementTool struct {
	toolDeps
}

func (t *ClickElementTool) Name() string { return "Click Element" }
func (t *ClickElementTool) Description() string {
	return `Left-click the single element matched by selector.

Returns: "ok".`
}
func (t *ClickElementTool) Params() []Param {
	return pageParams(selectorParam)
}
func (t *ClickElementTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	page, err := t.page(args)
	if err != nil {
		return nil, err
	}
	actCtx, cancel := t.actionContext(ctx)
	defer cancel()
	if err := page.Click(actCtx, args.String("selector")); err != nil {
		return nil, err
	}
	return "ok", nil
}

type ClickAtCoordinatesTool struct {
	toolDeps
}

func (t *ClickAtCoordinatesTool) Name() string { return "Click At Coordinates" }
func (t *ClickAtCoordinatesTool) Description() string {
	return `Click at a viewport position. Use bbox values from Query Elements.

Returns: "ok".`
}
func (t *ClickAtCoordinatesTool) Params() []Param {
	return pageParams(
		xParam,
		yParam,
		Param{
			Name:        "button",
			Type:        TypeString,
			Description: "Mouse button",
			Default:     string(browser.ButtonLeft),
			Enum:        []string{string(browser.ButtonLeft), string(browser.ButtonRight), string(browser.ButtonMiddle)},
		},
	)
}
func (t *ClickAtCoordinatesTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	return clickAt(ctx, t.toolDeps, args, browser.MouseButton(args.String("button")), 1)
}

type DoubleClickTool struct {
	toolDeps
}

func (t *DoubleClickTool) Name() string { return "Double Click" }
func (t *DoubleClickTool) Description() string {
	return `Double-click with the left button at a viewport position.

Returns: "ok".`
}
func (t *DoubleClickTool) Params() []Param {
	return pageParams(xParam, yParam)
}
func (t *DoubleClickTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	return clickAt(ctx, t.toolDeps, args, browser.ButtonLeft, 2)
}

func clickAt(ctx context.Context, d toolDeps, args Args, button browser.MouseButton, count int) (interface{}, error) {
	page, err := d.page(args)
	if err != nil {
		return nil, err
	}
	if button == "" {
		button = browser.ButtonLeft
	}
	actCtx, cancel := d.actionContext(ctx)
	defer cancel()
	if err := page.ClickAt(actCtx, args.Float("x", 0), args.Float("y", 0), button, count); err != nil {
		return nil, err
	}
	return "ok", nil
}

type ScrollToTool struct {
	toolDeps
}

func (t *ScrollToTool) Name() string { return "Scroll To" }
func (t *ScrollToTool) Description() string {
	return `Scroll the window to an absolute vertical offset (window.scrollTo(0, y)).
Calling it twice with the same y leaves the page where the first call put it.

Returns: "ok".`
}
func (t *ScrollToTool) Params() []Param {
	return pageParams(Param{Name: "y", Type: TypeNumber, Description: "Document y offset in CSS pixels", Required: true})
}
func (t *ScrollToTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	page, err := t.page(args)
	if err != nil {
		return nil, err
	}
	actCtx, cancel := t.actionContext(ctx)
	defer cancel()
	if err := page.ScrollTo(actCtx, args.Float("y", 0)); err != nil {
		return nil, err
	}
	return "ok", nil
}

type SendKeysTool struct {
	toolDeps
}

func (t *SendKeysTool) Name() string { return "Send Keys" }
func (t *SendKeysTool) Description() string {
	return `Type into the focused element. "\n" presses Enter, "\t" Tab, "\b" Backspace.
Non-ASCII text is inserted as-is.

Returns: "ok".`
}
func (t *SendKeysTool) Params() []Param {
	return pageParams(Param{Name: "keys", Type: TypeString, Description: "Keys to type", Required: true})
}
func (t *SendKeysTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	page, err := t.page(args)
	if err != nil {
		return nil, err
	}
	actCtx, cancel := t.actionContext(ctx)
	defer cancel()
	if err := page.Type(actCtx, args.String("keys")); err != nil {
		return nil, err
	}
	return "ok", nil
}
