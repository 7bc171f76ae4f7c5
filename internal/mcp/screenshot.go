package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const (
	defaultMaxWidth = 1024
	defaultQuality  = 80
)

// TakeScreenshotTool captures a page and returns it as a base64 JPEG no wider
// than max_width.
type TakeScreenshotTool struct {
	toolDeps
}

func (t *TakeScreenshotTool) Name() string { return "Take Screenshot" }
func (t *TakeScreenshotTool) Description() string {
	return `Capture the page as a base64-encoded JPEG.

TOKEN COST: HIGH (prefer Query Elements to find what to click)

The image is downscaled to max_width (never upscaled) and compressed at
quality (1-100).

Returns: base64 JPEG string.`
}
func (t *TakeScreenshotTool) Params() []Param {
	return pageParams(
		Param{Name: "full_page", Type: TypeBoolean, Description: "Capture the whole scrollable page instead of the viewport", Default: true},
		Param{Name: "max_width", Type: TypeInteger, Description: "Maximum output width in pixels", Default: defaultMaxWidth},
		Param{Name: "quality", Type: TypeInteger, Description: "JPEG quality, 1-100", Default: defaultQuality},
	)
}
func (t *TakeScreenshotTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	page, err := t.page(args)
	if err != nil {
		return nil, err
	}
	maxWidth := args.Int("max_width", defaultMaxWidth)
	if maxWidth <= 0 {
		return nil, &ArgError{Name: "max_width", Reason: fmt.Sprintf("must be positive, got %d", maxWidth)}
	}

	actCtx, cancel := t.actionContext(ctx)
	defer cancel()
	raw, err := page.Screenshot(actCtx, args.Bool("full_page", true))
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}

	out, err := compressScreenshot(raw, maxWidth, args.Int("quality", defaultQuality))
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// compressScreenshot decodes a PNG capture, scales it down to maxWidth keeping
// the aspect ratio and re-encodes it as JPEG.
func compressScreenshot(pngBytes []byte, maxWidth, quality int) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	img := resizeToWidth(src, maxWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

func resizeToWidth(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	if b.Dx() <= maxWidth {
		return src
	}
	height := b.Dy() * maxWidth / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	}
	return q
}
