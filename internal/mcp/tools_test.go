package mcp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/jpeg"
	"strings"
	"testing"

	"browserpilot-mcp-server/internal/browser"
	"browserpilot-mcp-server/internal/browser/browsertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(sid, pid string, extra map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"session_id": sid, "page_id": pid}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func TestLaunchBrowserUsesDefaults(t *testing.T) {
	h := newHarness(t)
	h.launch(t)

	res := h.call(t, "Launch Browser", map[string]interface{}{"headless": false, "viewport_width": 800, "viewport_height": 600})
	require.False(t, IsErrorResult(res))

	insts := h.drv.Instances()
	require.Len(t, insts, 2)
	assert.Equal(t, browser.LaunchOptions{Headless: true, Viewport: browser.Viewport{Width: 1280, Height: 720}}, insts[0].Options)
	assert.Equal(t, browser.LaunchOptions{Headless: false, Viewport: browser.Viewport{Width: 800, Height: 600}}, insts[1].Options)

	res = h.call(t, "Launch Browser", map[string]interface{}{"viewport_width": 0})
	assert.True(t, IsErrorResult(res))
	assert.Len(t, h.drv.Instances(), 2)
}

func TestOpenPageNavigationFailureKeepsPage(t *testing.T) {
	drv := browsertest.NewDriver()
	drv.NavErrors = map[string]error{"https://down.example": errors.New("net::ERR_CONNECTION_REFUSED")}
	h := newHarness(t, withDriver(drv))
	sid := h.launch(t)

	res := h.call(t, "Open Page", map[string]interface{}{"session_id": sid, "url": "https://down.example", "wait_until": "load"})
	text, ok := res.(string)
	require.True(t, ok)
	require.True(t, IsErrorResult(text), text)
	assert.Contains(t, text, "net::ERR_CONNECTION_REFUSED")

	sess, ok := h.reg.GetSession(sid)
	require.True(t, ok)
	pages := sess.PageIDs()
	require.Len(t, pages, 1)
	assert.Contains(t, text, pages[0])

	// The page stays usable for a retry.
	res = h.call(t, "Change Page", ids(sid, pages[0], map[string]interface{}{"url": "https://up.example"}))
	assert.Equal(t, "ok", res)
	assert.Equal(t, []string{
		"load https://down.example",
		"domcontentloaded https://up.example",
	}, h.fakePage(t, 0, 0).History())
}

func TestChangePageFailureKeepsPage(t *testing.T) {
	h := newHarness(t)
	sid := h.launch(t)
	pid := h.open(t, sid, "https://a.example")
	h.fakePage(t, 0, 0).FailNavigation("https://b.example", errors.New("timeout"))

	assert.Equal(t, "error: timeout", h.call(t, "Change Page", ids(sid, pid, map[string]interface{}{"url": "https://b.example"})))

	_, ok := h.reg.GetPage(sid, pid)
	assert.True(t, ok)
	assert.Equal(t, "https://a.example", h.fakePage(t, 0, 0).URL())
}

func TestQueryElements(t *testing.T) {
	drv := browsertest.NewDriver()
	drv.Elements = []browsertest.Element{
		{Selectors: []string{"a", "a.nav"}, Info: browser.ElementInfo{Tag: "a", Text: "Home"}},
		{Selectors: []string{"a", "a.nav"}, Info: browser.ElementInfo{Tag: "a", Text: "Pricing"}},
		{Selectors: []string{"button", "#buy"}, Info: browser.ElementInfo{Tag: "button", Text: "Buy now"}},
	}
	h := newHarness(t, withDriver(drv))
	sid := h.launch(t)
	pid := h.open(t, sid, "https://shop.example")

	res := h.call(t, "Query Elements", ids(sid, pid, map[string]interface{}{"selector": "a.nav"}))
	els, ok := res.([]browser.ElementInfo)
	require.True(t, ok, "got %T", res)
	require.Len(t, els, 2)
	assert.Equal(t, "Pricing", els[1].Text)

	res = h.call(t, "Query Elements", ids(sid, pid, map[string]interface{}{"text": "Buy"}))
	els = res.([]browser.ElementInfo)
	require.Len(t, els, 1)
	assert.Equal(t, "button", els[0].Tag)

	// Selector wins over text.
	res = h.call(t, "Query Elements", ids(sid, pid, map[string]interface{}{"selector": "#buy", "text": "Home"}))
	els = res.([]browser.ElementInfo)
	require.Len(t, els, 1)
	assert.Equal(t, "Buy now", els[0].Text)

	res = h.call(t, "Query Elements", ids(sid, pid, map[string]interface{}{"selector": "table"}))
	assert.Equal(t, []browser.ElementInfo{}, res)
	assert.Equal(t, []byte("[]"), marshalToolPayload("Query Elements", res))

	res = h.call(t, "Query Elements", ids(sid, pid, nil))
	assert.Equal(t, "error: no selector or text provided", res)
}

func TestFillAndClickElement(t *testing.T) {
	drv := browsertest.NewDriver()
	drv.Elements = []browsertest.Element{
		{Selectors: []string{"input", "#q"}},
		{Selectors: []string{"input", "#email"}},
		{Selectors: []string{"#hidden"}, NotVisible: true},
	}
	h := newHarness(t, withDriver(drv))
	sid := h.launch(t)
	pid := h.open(t, sid, "https://form.example")
	page := h.fakePage(t, 0, 0)

	assert.Equal(t, "ok", h.call(t, "Fill Input", ids(sid, pid, map[string]interface{}{"selector": "#q", "value": "gophers"})))
	assert.Equal(t, "gophers", page.Value("#q"))

	assert.Equal(t, "ok", h.call(t, "Fill Input", ids(sid, pid, map[string]interface{}{"selector": "#q"})))
	assert.Equal(t, "", page.Value("#q"))

	assert.Equal(t, "error: selector #nope matched no elements",
		h.call(t, "Fill Input", ids(sid, pid, map[string]interface{}{"selector": "#nope", "value": "x"})))
	assert.Equal(t, "error: selector input matched 2 elements",
		h.call(t, "Fill Input", ids(sid, pid, map[string]interface{}{"selector": "input", "value": "x"})))

	assert.Equal(t, "ok", h.call(t, "Click Element", ids(sid, pid, map[string]interface{}{"selector": "#email"})))
	assert.Equal(t, "error: element is not visible", h.call(t, "Click Element", ids(sid, pid, map[string]interface{}{"selector": "#hidden"})))
	assert.Equal(t, "error: selector input matched 2 elements", h.call(t, "Click Element", ids(sid, pid, map[string]interface{}{"selector": "input"})))
}

func TestPointerTools(t *testing.T) {
	h := newHarness(t)
	sid := h.launch(t)
	pid := h.open(t, sid, "https://a.example")

	assert.Equal(t, "ok", h.call(t, "Click At Coordinates", ids(sid, pid, map[string]interface{}{"x": 10.0, "y": 20.5})))
	assert.Equal(t, "ok", h.call(t, "Click At Coordinates", ids(sid, pid, map[string]interface{}{"x": 1, "y": 2, "button": "right"})))
	assert.Equal(t, "ok", h.call(t, "Double Click", ids(sid, pid, map[string]interface{}{"x": 5.0, "y": 6.0})))

	assert.Equal(t, []browsertest.Click{
		{X: 10, Y: 20.5, Button: browser.ButtonLeft, Count: 1},
		{X: 1, Y: 2, Button: browser.ButtonRight, Count: 1},
		{X: 5, Y: 6, Button: browser.ButtonLeft, Count: 2},
	}, h.fakePage(t, 0, 0).Clicks())
}

func TestScrollToIsAbsolute(t *testing.T) {
	h := newHarness(t)
	sid := h.launch(t)
	pid := h.open(t, sid, "https://a.example")
	page := h.fakePage(t, 0, 0)

	for i := 0; i < 2; i++ {
		assert.Equal(t, "ok", h.call(t, "Scroll To", ids(sid, pid, map[string]interface{}{"y": 400.0})))
		assert.Equal(t, 400.0, page.ScrollY())
	}
	assert.Equal(t, "ok", h.call(t, "Scroll To", ids(sid, pid, map[string]interface{}{"y": 0})))
	assert.Zero(t, page.ScrollY())
}

func TestSendKeys(t *testing.T) {
	h := newHarness(t)
	sid := h.launch(t)
	pid := h.open(t, sid, "https://a.example")

	assert.Equal(t, "ok", h.call(t, "Send Keys", ids(sid, pid, map[string]interface{}{"keys": "hello\n"})))
	assert.Equal(t, "ok", h.call(t, "Send Keys", ids(sid, pid, map[string]interface{}{"keys": "\tnext"})))
	assert.Equal(t, "hello\n\tnext", h.fakePage(t, 0, 0).Typed())
}

func TestTakeScreenshot(t *testing.T) {
	h := newHarness(t)
	sid := h.launch(t)
	pid := h.open(t, sid, "https://a.example")

	decode := func(t *testing.T, res interface{}) (int, int) {
		t.Helper()
		text, ok := res.(string)
		require.True(t, ok, "got %T", res)
		require.False(t, IsErrorResult(text), text)
		require.NotEmpty(t, text)
		raw, err := base64.StdEncoding.DecodeString(text)
		require.NoError(t, err)
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
		require.NoError(t, err)
		return cfg.Width, cfg.Height
	}

	// Default viewport 1280x720, full page doubles the height in the fake.
	w, hgt := decode(t, h.call(t, "Take Screenshot", ids(sid, pid, nil)))
	assert.Equal(t, 1024, w)
	assert.Equal(t, 1152, hgt)

	w, hgt = decode(t, h.call(t, "Take Screenshot", ids(sid, pid, map[string]interface{}{"full_page": false, "max_width": 320, "quality": 500})))
	assert.Equal(t, 320, w)
	assert.Equal(t, 180, hgt)

	w, _ = decode(t, h.call(t, "Take Screenshot", ids(sid, pid, map[string]interface{}{"max_width": 4000})))
	assert.Equal(t, 1280, w, "never upscale")

	res := h.call(t, "Take Screenshot", ids(sid, pid, map[string]interface{}{"max_width": 0}))
	assert.True(t, strings.HasPrefix(res.(string), "error: invalid argument max_width"))
}

func TestCompressScreenshotRejectsGarbage(t *testing.T) {
	_, err := compressScreenshot([]byte("not a png"), 100, 80)
	assert.Error(t, err)
}

func TestClampQuality(t *testing.T) {
	assert.Equal(t, 1, clampQuality(-5))
	assert.Equal(t, 1, clampQuality(0))
	assert.Equal(t, 55, clampQuality(55))
	assert.Equal(t, 100, clampQuality(101))
}

func TestCloseBrowserAndList(t *testing.T) {
	h := newHarness(t)
	s1 := h.launch(t)
	s2 := h.launch(t)
	p1 := h.open(t, s1, "https://a.example")

	res := h.call(t, "List Sessions", nil)
	infos, ok := res.([]browser.SessionInfo)
	require.True(t, ok, "got %T", res)
	require.Len(t, infos, 2)
	byID := map[string]browser.SessionInfo{}
	for _, info := range infos {
		byID[info.ID] = info
	}
	assert.Equal(t, []string{p1}, byID[s1].Pages)
	assert.Empty(t, byID[s2].Pages)
	assert.True(t, byID[s2].Headless)

	assert.Equal(t, "ok", h.call(t, "Close Browser", map[string]interface{}{"session_id": s1}))
	assert.Equal(t, "ok", h.call(t, "Close Browser", map[string]interface{}{"session_id": s1}))
	assert.True(t, h.drv.Instances()[0].Closed())
	assert.Equal(t, 1, h.drv.Instances()[0].CloseCalls())

	assert.Equal(t, "error: unknown session "+s1,
		h.call(t, "Scroll To", ids(s1, p1, map[string]interface{}{"y": 1.0})))

	infos = h.call(t, "List Sessions", nil).([]browser.SessionInfo)
	require.Len(t, infos, 1)
	assert.Equal(t, s2, infos[0].ID)

	h.drv.Instances()[1].FailClose(errors.New("zombie chrome"))
	assert.Equal(t, "error: close session "+s2+": zombie chrome", h.call(t, "Close Browser", map[string]interface{}{"session_id": s2}))
	assert.Equal(t, 0, h.reg.Len())
}
