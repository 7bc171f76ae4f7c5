package mcp

import (
	"context"

	"browserpilot-mcp-server/internal/browser"
)

// QueryElementsTool reads matching DOM elements without mutating the page.
type QueryElementsTool struct {
	toolDeps
}

func (t *QueryElementsTool) Name() string { return "Query Elements" }
func (t *QueryElementsTool) Description() string {
	return `Find elements by CSS selector or by visible text.

selector wins when both are given. text matches the innermost elements whose
rendered text contains it.

TOKEN COST: LOW (prefer this over Take Screenshot to locate things)

Returns: array of {tag, text, attributes[{name,value}], bbox{x,y,width,height}}.
An empty array means nothing matched.`
}
func (t *QueryElementsTool) Params() []Param {
	return pageParams(
		Param{Name: "selector", Type: TypeString, Description: "CSS selector"},
		Param{Name: "text", Type: TypeString, Description: "Substring of the element's visible text"},
	)
}
func (t *QueryElementsTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	page, err := t.page(args)
	if err != nil {
		return nil, err
	}
	q := browser.ElementQuery{Selector: args.String("selector"), Text: args.String("text")}
	if q.Selector == "" && q.Text == "" {
		return nil, browser.ErrNoQuery
	}

	actCtx, cancel := t.actionContext(ctx)
	defer cancel()
	elements, err := page.QueryElements(actCtx, q)
	if err != nil {
		return nil, err
	}
	if elements == nil {
		elements = []browser.ElementInfo{}
	}
	return elements, nil
}
