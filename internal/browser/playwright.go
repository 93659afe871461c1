package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/skipperhq/skipper/internal/observability"
)

// ExecutorConfig sizes the viewport and caps screenshot dimensions.
type ExecutorConfig struct {
	ViewportWidth  int
	ViewportHeight int

	// MaxImageWidth/Height bound screenshots fed to vision models;
	// zero disables scaling.
	MaxImageWidth  int
	MaxImageHeight int
}

func (c *ExecutorConfig) applyDefaults() {
	if c.ViewportWidth == 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight == 0 {
		c.ViewportHeight = 800
	}
}

// Executor runs actions against a live page.
type Executor interface {
	// Execute runs one action. Failures are reported in the Outcome, not
	// as an error; the agent conversation continues either way.
	Execute(ctx context.Context, action Action) Outcome

	// CurrentURL returns the active page URL.
	CurrentURL() string

	// Close releases browser resources.
	Close() error
}

// PlaywrightExecutor drives a remote Chrome over CDP via Playwright,
// typically a Steel session's websocket endpoint.
type PlaywrightExecutor struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	config  ExecutorConfig
	logger  *observability.Logger
}

// ConnectPlaywright attaches to a running browser over CDP and prepares the
// active page: viewport sizing, cursor overlay, and same-tab navigation.
func ConnectPlaywright(connectURL string, cfg ExecutorConfig, logger *observability.Logger) (*PlaywrightExecutor, error) {
	cfg.applyDefaults()

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	b, err := pw.Chromium.ConnectOverCDP(connectURL)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("connect over cdp: %w", err)
	}

	e := &PlaywrightExecutor{pw: pw, browser: b, config: cfg, logger: logger}
	if err := e.setupPage(); err != nil {
		b.Close()
		pw.Stop()
		return nil, err
	}
	return e, nil
}

func (e *PlaywrightExecutor) setupPage() error {
	var bctx playwright.BrowserContext
	if contexts := e.browser.Contexts(); len(contexts) > 0 {
		bctx = contexts[0]
	} else {
		created, err := e.browser.NewContext()
		if err != nil {
			return fmt.Errorf("create browser context: %w", err)
		}
		bctx = created
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		created, err := bctx.NewPage()
		if err != nil {
			return fmt.Errorf("create page: %w", err)
		}
		page = created
	}

	if err := page.SetViewportSize(e.config.ViewportWidth, e.config.ViewportHeight); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	for _, script := range []string{cursorOverlayScript, sameTabScript} {
		if err := page.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
			return fmt.Errorf("add init script: %w", err)
		}
	}

	e.page = page
	return nil
}

// Execute runs one action and captures the post-action state. Driver panics
// surface as failure outcomes so a wedged page never kills the agent loop.
func (e *PlaywrightExecutor) Execute(ctx context.Context, action Action) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("browser driver panicked", "action", action.Kind(), "panic", fmt.Sprintf("%v", r))
			out = Fail("browser driver failure during %s: %v", action.Kind(), r)
		}
	}()

	if e.page == nil || e.page.IsClosed() {
		return Fail("page is closed; cannot execute action")
	}
	if err := ctx.Err(); err != nil {
		return Fail("action aborted: %v", err)
	}

	if err := e.perform(ctx, action); err != nil {
		e.logger.Warn("browser action failed", "action", action.Kind(), "error", err.Error())
		return Fail("%s failed: %v", action.Kind(), err)
	}

	return e.capture()
}

func (e *PlaywrightExecutor) perform(ctx context.Context, action Action) error {
	page := e.page
	mouse := page.Mouse()
	keyboard := page.Keyboard()

	switch a := action.(type) {
	case Navigate:
		if a.URL == "" {
			return fmt.Errorf("url is required")
		}
		_, err := page.Goto(a.URL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		})
		return err

	case Click:
		button := playwright.MouseButtonLeft
		switch a.Button {
		case ButtonRight:
			button = playwright.MouseButtonRight
		case ButtonMiddle:
			button = playwright.MouseButtonMiddle
		}
		x, y := float64(a.Pos.X), float64(a.Pos.Y)
		if err := mouse.Move(x, y); err != nil {
			return err
		}
		return mouse.Click(x, y, playwright.MouseClickOptions{Button: button})

	case DoubleClick:
		return mouse.Dblclick(float64(a.Pos.X), float64(a.Pos.Y))

	case TypeText:
		return keyboard.Type(a.Text)

	case KeyPress:
		for _, key := range TranslateKeys(a.Keys) {
			if err := keyboard.Press(key); err != nil {
				return err
			}
		}
		return nil

	case Scroll:
		if err := mouse.Move(float64(a.Pos.X), float64(a.Pos.Y)); err != nil {
			return err
		}
		_, err := page.Evaluate(fmt.Sprintf("window.scrollBy(%d, %d)", a.DeltaX, a.DeltaY))
		return err

	case Move:
		return mouse.Move(float64(a.Pos.X), float64(a.Pos.Y))

	case Drag:
		if len(a.Path) == 0 {
			return fmt.Errorf("no path provided for drag action")
		}
		if err := mouse.Move(float64(a.Path[0].X), float64(a.Path[0].Y)); err != nil {
			return err
		}
		if err := mouse.Down(); err != nil {
			return err
		}
		for _, pt := range a.Path[1:] {
			if err := mouse.Move(float64(pt.X), float64(pt.Y)); err != nil {
				return err
			}
		}
		return mouse.Up()

	case Wait:
		d := a.Duration
		if d <= 0 {
			d = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}

	case Back:
		_, err := page.GoBack()
		return err

	case Forward:
		_, err := page.GoForward()
		return err

	case Screenshot:
		// Capture happens after every action; nothing to do here.
		return nil

	default:
		return fmt.Errorf("unknown action %q", action.Kind())
	}
}

// capture takes the post-action screenshot and reads the page URL.
func (e *PlaywrightExecutor) capture() Outcome {
	data, err := e.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
	})
	if err != nil {
		return Fail("screenshot failed: %v", err)
	}

	if e.config.MaxImageWidth > 0 || e.config.MaxImageHeight > 0 {
		scaled, err := ScaleScreenshot(data, e.config.MaxImageWidth, e.config.MaxImageHeight)
		if err != nil {
			e.logger.Warn("screenshot scaling failed", "error", err.Error())
		} else {
			data = scaled
		}
	}

	return Outcome{
		Screenshot: base64.StdEncoding.EncodeToString(data),
		URL:        e.CurrentURL(),
	}
}

// CurrentURL returns the active page URL, or about:blank when no page is
// available.
func (e *PlaywrightExecutor) CurrentURL() string {
	if e.page == nil || e.page.IsClosed() {
		return "about:blank"
	}
	return e.page.URL()
}

// Close disconnects from the browser and stops the driver.
func (e *PlaywrightExecutor) Close() error {
	var firstErr error
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			firstErr = err
		}
	}
	if e.pw != nil {
		if err := e.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
