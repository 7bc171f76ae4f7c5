package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// RodDriver launches one Chrome process per session through rod's launcher.
type RodDriver struct {
	// Bin is the Chrome binary. Empty lets the launcher find or download one.
	Bin string
	// Flags are extra Chrome switches such as "--no-sandbox" or "--lang=en-US".
	Flags []string
	// ActionTimeout bounds element lookups for Fill and Click.
	ActionTimeout time.Duration
	Log           logrus.FieldLogger
}

func (d *RodDriver) logger() logrus.FieldLogger {
	if d.Log == nil {
		return logrus.StandardLogger()
	}
	return d.Log
}

func (d *RodDriver) newLauncher(headless bool) *launcher.Launcher {
	l := launcher.New().Headless(headless)
	if d.Bin != "" {
		l = l.Bin(d.Bin)
	}
	for _, raw := range d.Flags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name == "" {
			continue
		}
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// Launch starts Chrome, connects over CDP and opens an incognito context.
// The browser is not bound to ctx: it lives until Instance.Close.
func (d *RodDriver) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := d.newLauncher(opts.Headless)
	controlURL, err := l.Launch()
	if err != nil {
		// Cleanup would block on a process that may never have started.
		l.Kill()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	incognito, err := b.Incognito()
	if err != nil {
		_ = b.Close()
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	d.logger().WithField("control_url", controlURL).Debug("chrome launched")
	return &rodInstance{
		launcher:      l,
		browser:       b,
		context:       incognito,
		viewport:      opts.Viewport,
		actionTimeout: d.ActionTimeout,
		log:           d.logger(),
	}, nil
}

type rodInstance struct {
	launcher      *launcher.Launcher
	browser       *rod.Browser
	context       *rod.Browser
	viewport      Viewport
	actionTimeout time.Duration
	log           logrus.FieldLogger
}

func (i *rodInstance) NewPage(ctx context.Context) (Page, error) {
	page, err := i.context.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	// Drop the call context so later calls attach their own.
	page = page.Context(context.Background())

	if i.viewport.Width > 0 && i.viewport.Height > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             i.viewport.Width,
			Height:            i.viewport.Height,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}).Call(page); err != nil {
			i.log.WithError(err).Warn("failed to set viewport")
		}
	}

	timeout := i.actionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &rodPage{page: page, actionTimeout: timeout}, nil
}

// Close shuts Chrome down and waits for the process to exit.
func (i *rodInstance) Close() error {
	err := i.browser.Close()
	if err != nil {
		i.launcher.Kill()
	}
	i.launcher.Cleanup()
	return err
}

type rodPage struct {
	page          *rod.Page
	actionTimeout time.Duration
}

func (p *rodPage) Navigate(ctx context.Context, url string, wait WaitUntil) error {
	page := p.page.Context(ctx)

	var waitFn func()
	switch wait {
	case WaitDOMContentLoaded:
		waitFn = page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	case WaitLoad:
		waitFn = page.WaitNavigation(proto.PageLifecycleEventNameLoad)
	case WaitNetworkIdle:
		waitFn = page.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	case WaitCommit:
	default:
		return fmt.Errorf("unsupported wait_until %q", wait)
	}

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if waitFn != nil {
		waitFn()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for %s on %s: %w", wait, url, err)
	}
	return nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return data, nil
}

// queryElementsJS returns {tag, text, attributes, bbox} for every match.
// The selector wins over text; text matches leaf-most elements whose
// innerText contains it.
const queryElementsJS = `(selector, text) => {
	const describe = (el) => {
		const r = el.getBoundingClientRect();
		return {
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.textContent || '').trim().slice(0, 200),
			attributes: Array.from(el.attributes).map(a => ({ name: a.name, value: a.value })),
			bbox: { x: r.x, y: r.y, width: r.width, height: r.height },
		};
	};
	let nodes = [];
	if (selector) {
		nodes = Array.from(document.querySelectorAll(selector));
	} else if (text) {
		const all = Array.from(document.body ? document.body.querySelectorAll('*') : []);
		const hits = all.filter(el => (el.innerText || '').includes(text));
		nodes = hits.filter(el => !hits.some(other => other !== el && el.contains(other)));
	}
	return nodes.map(describe);
}`

func (p *rodPage) QueryElements(ctx context.Context, q ElementQuery) ([]ElementInfo, error) {
	if q.Selector == "" && q.Text == "" {
		return nil, ErrNoQuery
	}
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      queryElementsJS,
		JSArgs:  []interface{}{q.Selector, q.Text},
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query elements: %w", err)
	}
	out := []ElementInfo{}
	if err := res.Value.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("decode elements: %w", err)
	}
	return out, nil
}

// unique resolves selector to exactly one element.
func (p *rodPage) unique(ctx context.Context, selector string) (*rod.Element, error) {
	page := p.page.Context(ctx)
	tp := page.Timeout(p.actionTimeout)
	_, err := tp.Element(selector)
	tp.CancelTimeout()
	if err != nil {
		return nil, lookupError(ctx, selector, err)
	}
	els, err := page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", selector, err)
	}
	if len(els) != 1 {
		return nil, &MatchError{Selector: selector, Count: len(els)}
	}
	return els[0], nil
}

// lookupError maps a failed element wait. Only the action timeout means
// "no match"; a canceled or expired caller context is reported as such.
func lookupError(ctx context.Context, selector string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("find %s: %w", selector, cerr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &MatchError{Selector: selector, Count: 0}
	}
	return fmt.Errorf("find %s: %w", selector, err)
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.unique(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.unique(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) ClickAt(ctx context.Context, x, y float64, button MouseButton, clickCount int) error {
	page := p.page.Context(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("move mouse to (%v, %v): %w", x, y, err)
	}
	if err := page.Mouse.Click(proto.InputMouseButton(button), clickCount); err != nil {
		return fmt.Errorf("click at (%v, %v): %w", x, y, err)
	}
	return nil
}

func (p *rodPage) ScrollTo(ctx context.Context, y float64) error {
	if _, err := p.page.Context(ctx).Eval(`(y) => window.scrollTo(0, y)`, y); err != nil {
		return fmt.Errorf("scroll to %v: %w", y, err)
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, keys string) error {
	page := p.page.Context(ctx)
	for _, step := range planKeys(keys) {
		var err error
		if step.text != "" {
			err = page.InsertText(step.text)
		} else {
			err = page.Keyboard.Type(step.key)
		}
		if err != nil {
			return fmt.Errorf("send keys: %w", err)
		}
	}
	return nil
}

// keyStep is either a single key or a run of text inserted verbatim.
type keyStep struct {
	key  input.Key
	text string
}

// planKeys splits a literal keystroke sequence into driver steps. Printable
// ASCII is typed key by key, a few control characters map to their keys and
// everything else is inserted as text.
func planKeys(keys string) []keyStep {
	var (
		steps []keyStep
		run   strings.Builder
	)
	flush := func() {
		if run.Len() > 0 {
			steps = append(steps, keyStep{text: run.String()})
			run.Reset()
		}
	}
	var prev rune
	for _, r := range keys {
		switch {
		case r == '\n' && prev == '\r':
			// CRLF is one Enter.
		case r == '\n' || r == '\r':
			flush()
			steps = append(steps, keyStep{key: input.Enter})
		case r == '\t':
			flush()
			steps = append(steps, keyStep{key: input.Tab})
		case r == '\b':
			flush()
			steps = append(steps, keyStep{key: input.Backspace})
		case r >= 0x20 && r <= 0x7e:
			flush()
			steps = append(steps, keyStep{key: input.Key(r)})
		default:
			run.WriteRune(r)
		}
		prev = r
	}
	flush()
	return steps
}
