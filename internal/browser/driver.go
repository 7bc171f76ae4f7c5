package browser

import (
	"context"
	"fmt"
)

// WaitUntil selects the navigation milestone a Navigate call waits for.
type WaitUntil string

const (
	WaitCommit           WaitUntil = "commit"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitLoad             WaitUntil = "load"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// WaitUntilValues lists the accepted wait policies in schema order.
var WaitUntilValues = []string{
	string(WaitLoad),
	string(WaitDOMContentLoaded),
	string(WaitNetworkIdle),
	string(WaitCommit),
}

// ParseWaitUntil maps a tool argument onto a wait policy. Empty means domcontentloaded.
func ParseWaitUntil(s string) (WaitUntil, error) {
	switch WaitUntil(s) {
	case "":
		return WaitDOMContentLoaded, nil
	case WaitCommit, WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle:
		return WaitUntil(s), nil
	}
	return "", fmt.Errorf("unsupported wait_until %q", s)
}

// MouseButton is one of left, right or middle.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// Viewport is the initial page size for a session's context.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LaunchOptions configures one isolated browser instance.
type LaunchOptions struct {
	Headless bool
	Viewport Viewport
}

// ElementQuery selects elements by CSS selector or by contained text.
// Selector wins when both are set.
type ElementQuery struct {
	Selector string
	Text     string
}

// Attribute is a single DOM attribute.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BoundingBox is an element rectangle in viewport coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementInfo is one record returned by QueryElements.
type ElementInfo struct {
	Tag        string      `json:"tag"`
	Text       string      `json:"text"`
	Attributes []Attribute `json:"attributes"`
	BBox       BoundingBox `json:"bbox"`
}

// Driver starts isolated browser instances. Each Launch owns one OS process.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Instance, error)
}

// Instance is one running browser process plus its isolated browsing context.
type Instance interface {
	NewPage(ctx context.Context) (Page, error)
	// Close releases the browser process and blocks until it is gone.
	Close() error
}

// Page is a single tab inside an Instance.
type Page interface {
	Navigate(ctx context.Context, url string, wait WaitUntil) error
	URL() string
	// Screenshot returns PNG bytes.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	QueryElements(ctx context.Context, q ElementQuery) ([]ElementInfo, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	ClickAt(ctx context.Context, x, y float64, button MouseButton, clickCount int) error
	// ScrollTo scrolls the window to the absolute vertical offset y.
	ScrollTo(ctx context.Context, y float64) error
	Type(ctx context.Context, keys string) error
}
