package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	captureStableDur  = 500 * time.Millisecond
	maxConcurrentTabs = 2
)

// RodCapturer screenshots flagged posts via a headless Chromium instance
// managed by Rod. Stealth pages reduce the chance of platforms serving a
// bot-detection interstitial instead of the post.
type RodCapturer struct {
	browser *rod.Browser
	dir     string
	tabSem  chan struct{}
}

// NewRodCapturer launches headless Chromium and ensures the screenshot
// directory exists.
func NewRodCapturer(dir string) (*RodCapturer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}

	u, err := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch headless browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to headless browser: %w", err)
	}

	return &RodCapturer{
		browser: browser,
		dir:     dir,
		tabSem:  make(chan struct{}, maxConcurrentTabs),
	}, nil
}

// Capture navigates to the post URL, waits for the DOM to stabilize, and
// writes a full-page PNG named after the alert id. Returns the file path.
func (c *RodCapturer) Capture(ctx context.Context, pageURL, alertID string) (string, error) {
	select {
	case c.tabSem <- struct{}{}:
		defer func() { <-c.tabSem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	page, err := stealth.Page(c.browser)
	if err != nil {
		return "", fmt.Errorf("create tab: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  1280,
		Height: 1024,
	}); err != nil {
		return "", fmt.Errorf("set viewport: %w", err)
	}

	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", pageURL, err)
	}
	_ = page.WaitStable(captureStableDur)

	data, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("screenshot %s: %w", pageURL, err)
	}

	path := filepath.Join(c.dir, alertID+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// Close shuts down the headless browser process.
func (c *RodCapturer) Close() {
	_ = c.browser.Close()
}
