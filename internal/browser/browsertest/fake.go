// Package browsertest provides an in-memory browser.Driver for tests that
// exercise the registry and the tool dispatcher without Chrome.
package browsertest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"browserpilot-mcp-server/internal/browser"
)

// Default canvas size for fake screenshots.
const (
	DefaultShotWidth  = 1600
	DefaultShotHeight = 1200
)

// Driver records every launch. Set LaunchErr to make Launch fail.
type Driver struct {
	mu        sync.Mutex
	LaunchErr error
	// CloseDelay is copied to each new instance.
	CloseDelay time.Duration
	// Elements seeds every new page.
	Elements []Element
	// NavErrors seeds FailNavigation on every new page.
	NavErrors map[string]error
	// BeforeLaunch, when set, runs at the top of Launch without holding
	// the driver lock. Tests use it to park a launch mid-flight.
	BeforeLaunch func()
	instances    []*Instance
}

// NewDriver returns an empty fake driver.
func NewDriver() *Driver { return &Driver{} }

func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Instance, error) {
	if d.BeforeLaunch != nil {
		d.BeforeLaunch()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	inst := &Instance{
		Options:    opts,
		closeDelay: d.CloseDelay,
		elements:   append([]Element(nil), d.Elements...),
		navErrs:    d.NavErrors,
	}
	d.instances = append(d.instances, inst)
	return inst, nil
}

// Instances returns every instance launched so far, in launch order.
func (d *Driver) Instances() []*Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Instance(nil), d.instances...)
}

// Instance is a fake browser process.
type Instance struct {
	Options browser.LaunchOptions

	mu         sync.Mutex
	closeErr   error
	closeDelay time.Duration
	closeCalls int
	closed     bool
	elements   []Element
	navErrs    map[string]error
	pages      []*Page
}

func (i *Instance) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, errors.New("browser closed")
	}
	w, h := i.Options.Viewport.Width, i.Options.Viewport.Height
	if w <= 0 || h <= 0 {
		w, h = DefaultShotWidth, DefaultShotHeight
	}
	p := &Page{
		url:      "about:blank",
		ShotSize: image.Pt(w, h),
		elements: append([]Element(nil), i.elements...),
		navErrs:  make(map[string]error, len(i.navErrs)),
	}
	for url, err := range i.navErrs {
		p.navErrs[url] = err
	}
	i.pages = append(i.pages, p)
	return p, nil
}

func (i *Instance) Close() error {
	i.mu.Lock()
	delay := i.closeDelay
	i.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.closeCalls++
	i.closed = true
	return i.closeErr
}

// FailClose makes Close return err.
func (i *Instance) FailClose(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closeErr = err
}

// Closed reports whether Close ran.
func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// CloseCalls counts Close invocations.
func (i *Instance) CloseCalls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closeCalls
}

// Pages returns the pages opened in this instance.
func (i *Instance) Pages() []*Page {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Page(nil), i.pages...)
}

// Element is a fake DOM node. Selectors lists the CSS selectors it matches.
type Element struct {
	Selectors  []string
	Info       browser.ElementInfo
	Value      string
	Clicks     int
	NotVisible bool
}

func (e *Element) matches(selector string) bool {
	for _, s := range e.Selectors {
		if s == selector {
			return true
		}
	}
	return false
}

// Click records one pointer action.
type Click struct {
	X, Y   float64
	Button browser.MouseButton
	Count  int
}

// Page is a fake tab.
type Page struct {
	// ShotSize is the size of the PNG Screenshot returns.
	ShotSize image.Point

	mu       sync.Mutex
	url      string
	history  []string
	navErrs  map[string]error
	elements []Element
	scrollY  float64
	typed    strings.Builder
	clicks   []Click
}

// FailNavigation makes Navigate to url return err.
func (p *Page) FailNavigation(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navErrs[url] = err
}

// SetElements replaces the page's DOM.
func (p *Page) SetElements(els ...Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = els
}

func (p *Page) Navigate(ctx context.Context, url string, wait browser.WaitUntil) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, string(wait)+" "+url)
	if err := p.navErrs[url]; err != nil {
		return err
	}
	p.url = url
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// History lists "<wait_until> <url>" for every Navigate call.
func (p *Page) History() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.history...)
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	size := p.ShotSize
	p.mu.Unlock()

	h := size.Y
	if fullPage {
		h *= 2
	}
	img := image.NewGray(image.Rect(0, 0, size.X, h))
	for i := range img.Pix {
		img.Pix[i] = 0xcc
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Page) QueryElements(ctx context.Context, q browser.ElementQuery) ([]browser.ElementInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Selector == "" && q.Text == "" {
		return nil, browser.ErrNoQuery
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []browser.ElementInfo{}
	for _, el := range p.elements {
		if q.Selector != "" {
			if el.matches(q.Selector) {
				out = append(out, el.Info)
			}
			continue
		}
		if strings.Contains(el.Info.Text, q.Text) {
			out = append(out, el.Info)
		}
	}
	return out, nil
}

func (p *Page) unique(selector string) (*Element, error) {
	var hit *Element
	n := 0
	for i := range p.elements {
		if p.elements[i].matches(selector) {
			hit = &p.elements[i]
			n++
		}
	}
	if n != 1 {
		return nil, &browser.MatchError{Selector: selector, Count: n}
	}
	return hit, nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.unique(selector)
	if err != nil {
		return err
	}
	el.Value = value
	return nil
}

// Value returns the filled value of the element matching selector.
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.unique(selector)
	if err != nil {
		return ""
	}
	return el.Value
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.unique(selector)
	if err != nil {
		return err
	}
	if el.NotVisible {
		return errors.New("element is not visible")
	}
	el.Clicks++
	return nil
}

func (p *Page) ClickAt(ctx context.Context, x, y float64, button browser.MouseButton, clickCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, Click{X: x, Y: y, Button: button, Count: clickCount})
	return nil
}

// Clicks returns the recorded pointer clicks.
func (p *Page) Clicks() []Click {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Click(nil), p.clicks...)
}

func (p *Page) ScrollTo(ctx context.Context, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if y < 0 {
		y = 0
	}
	p.scrollY = y
	return nil
}

// ScrollY is the current absolute vertical offset.
func (p *Page) ScrollY() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollY
}

func (p *Page) Type(ctx context.Context, keys string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed.WriteString(keys)
	return nil
}

// Typed returns everything sent through Type.
func (p *Page) Typed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed.String()
}
