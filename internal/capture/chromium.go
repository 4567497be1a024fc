// Package capture renders the dial page in headless Chromium and saves it as
// a PNG.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Default capture parameters. The dial is square and at most 380px wide, so
// the viewport leaves a small margin around it.
const (
	DefaultWidth      = 420
	DefaultHeight     = 420
	DefaultTimeoutSec = 30

	// DialSelector is the element that is screenshotted.
	DialSelector = "#dial"
	// ReadySelector appears once the page has laid out every arc.
	ReadySelector = `[data-ready="true"]`
)

// CaptureOptions defines parameters for a Chromium-based screenshot capture.
type CaptureOptions struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/".
	URL string

	// OutputPath, if set, receives the PNG as well.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Headers are sent with every request, e.g. Authorization when the dial
	// is behind basic auth.
	Headers map[string]string

	// Timeout bounds the entire capture operation. If zero, a sane default
	// (DefaultTimeoutSec) is used.
	Timeout time.Duration
}

// CaptureDialPNG navigates to opts.URL, waits for the page to flag
// data-ready="true" and screenshots the dial element.
func CaptureDialPNG(parentCtx context.Context, opts CaptureOptions) ([]byte, error) {
	if opts.URL == "" {
		return nil, errors.New("capture: URL is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if len(opts.Headers) > 0 {
		headers := make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}
	tasks = append(tasks,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Let the last paint settle.
		chromedp.Sleep(300*time.Millisecond),
		chromedp.Screenshot(DialSelector, &png, chromedp.ByQuery),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if opts.OutputPath != "" {
		if err := WritePNG(opts.OutputPath, png); err != nil {
			return png, err
		}
	}
	return png, nil
}

// WritePNG stores png at path, creating the parent directory.
func WritePNG(path string, png []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("capture: create dir: %w", err)
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	return nil
}
