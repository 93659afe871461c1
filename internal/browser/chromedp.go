package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/skipperhq/skipper/internal/observability"
)

// ChromedpExecutor drives Chrome through the DevTools protocol directly.
// It is the fallback for local development, where no remote session service
// is configured and a headless Chrome is launched on the host.
type ChromedpExecutor struct {
	ctx     context.Context
	cancels []context.CancelFunc
	config  ExecutorConfig
	logger  *observability.Logger
}

// NewChromedpExecutor launches (or attaches to) a Chrome instance.
// debugURL, when set, attaches to a running browser's DevTools endpoint;
// otherwise a local headless instance is started.
func NewChromedpExecutor(parent context.Context, debugURL string, cfg ExecutorConfig, logger *observability.Logger) (*ChromedpExecutor, error) {
	cfg.applyDefaults()

	var cancels []context.CancelFunc
	allocCtx := parent
	if debugURL != "" {
		ctx, cancel := chromedp.NewRemoteAllocator(parent, debugURL)
		allocCtx, cancels = ctx, append(cancels, cancel)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		)
		ctx, cancel := chromedp.NewExecAllocator(parent, opts...)
		allocCtx, cancels = ctx, append(cancels, cancel)
	}

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	cancels = append(cancels, cancel)

	// Establish the target and inject page setup before the first action.
	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, script := range []string{cursorOverlayScript, sameTabScript} {
				if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
	)
	if err != nil {
		for i := len(cancels) - 1; i >= 0; i-- {
			cancels[i]()
		}
		return nil, fmt.Errorf("initialize chrome: %w", err)
	}

	return &ChromedpExecutor{ctx: taskCtx, cancels: cancels, config: cfg, logger: logger}, nil
}

// Execute runs one action and captures the post-action state.
func (e *ChromedpExecutor) Execute(ctx context.Context, action Action) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("browser driver panicked", "action", action.Kind(), "panic", fmt.Sprintf("%v", r))
			out = Fail("browser driver failure during %s: %v", action.Kind(), r)
		}
	}()

	if err := e.ctx.Err(); err != nil {
		return Fail("page is closed; cannot execute action")
	}
	if err := ctx.Err(); err != nil {
		return Fail("action aborted: %v", err)
	}

	tasks, err := e.tasks(ctx, action)
	if err != nil {
		return Fail("%s failed: %v", action.Kind(), err)
	}
	if err := chromedp.Run(e.ctx, tasks...); err != nil {
		e.logger.Warn("browser action failed", "action", action.Kind(), "error", err.Error())
		return Fail("%s failed: %v", action.Kind(), err)
	}

	return e.capture()
}

func (e *ChromedpExecutor) tasks(ctx context.Context, action Action) ([]chromedp.Action, error) {
	switch a := action.(type) {
	case Navigate:
		if a.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		return []chromedp.Action{chromedp.Navigate(a.URL)}, nil

	case Click:
		button := input.Left
		switch a.Button {
		case ButtonRight:
			button = input.Right
		case ButtonMiddle:
			button = input.Middle
		}
		x, y := float64(a.Pos.X), float64(a.Pos.Y)
		return []chromedp.Action{
			chromedp.MouseEvent(input.MouseMoved, x, y),
			chromedp.MouseClickXY(x, y, chromedp.ButtonType(button)),
		}, nil

	case DoubleClick:
		return []chromedp.Action{
			chromedp.MouseClickXY(float64(a.Pos.X), float64(a.Pos.Y), chromedp.ClickCount(2)),
		}, nil

	case TypeText:
		return []chromedp.Action{chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(a.Text).Do(ctx)
		})}, nil

	case KeyPress:
		keys := TranslateKeys(a.Keys)
		return []chromedp.Action{chromedp.ActionFunc(func(ctx context.Context) error {
			for _, key := range keys {
				if err := chromedp.KeyEvent(key).Do(ctx); err != nil {
					return err
				}
			}
			return nil
		})}, nil

	case Scroll:
		return []chromedp.Action{
			chromedp.MouseEvent(input.MouseMoved, float64(a.Pos.X), float64(a.Pos.Y)),
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(%d, %d)", a.DeltaX, a.DeltaY), nil),
		}, nil

	case Move:
		return []chromedp.Action{
			chromedp.MouseEvent(input.MouseMoved, float64(a.Pos.X), float64(a.Pos.Y)),
		}, nil

	case Drag:
		if len(a.Path) == 0 {
			return nil, fmt.Errorf("no path provided for drag action")
		}
		path := a.Path
		return []chromedp.Action{chromedp.ActionFunc(func(ctx context.Context) error {
			first := path[0]
			if err := chromedp.MouseEvent(input.MouseMoved, float64(first.X), float64(first.Y)).Do(ctx); err != nil {
				return err
			}
			if err := chromedp.MouseEvent(input.MousePressed, float64(first.X), float64(first.Y), chromedp.ButtonType(input.Left)).Do(ctx); err != nil {
				return err
			}
			for _, pt := range path[1:] {
				if err := chromedp.MouseEvent(input.MouseMoved, float64(pt.X), float64(pt.Y)).Do(ctx); err != nil {
					return err
				}
			}
			last := path[len(path)-1]
			return chromedp.MouseEvent(input.MouseReleased, float64(last.X), float64(last.Y), chromedp.ButtonType(input.Left)).Do(ctx)
		})}, nil

	case Wait:
		d := a.Duration
		if d <= 0 {
			d = time.Second
		}
		return []chromedp.Action{chromedp.ActionFunc(func(runCtx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-runCtx.Done():
				return runCtx.Err()
			case <-time.After(d):
				return nil
			}
		})}, nil

	case Back:
		return []chromedp.Action{chromedp.NavigateBack()}, nil

	case Forward:
		return []chromedp.Action{chromedp.NavigateForward()}, nil

	case Screenshot:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown action %q", action.Kind())
	}
}

func (e *ChromedpExecutor) capture() Outcome {
	var data []byte
	var url string
	err := chromedp.Run(e.ctx,
		chromedp.CaptureScreenshot(&data),
		chromedp.Location(&url),
	)
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
		URL:        url,
	}
}

// CurrentURL returns the active page URL.
func (e *ChromedpExecutor) CurrentURL() string {
	var url string
	if err := chromedp.Run(e.ctx, chromedp.Location(&url)); err != nil {
		return "about:blank"
	}
	return url
}

// Close tears down the Chrome contexts in reverse creation order.
func (e *ChromedpExecutor) Close() error {
	for i := len(e.cancels) - 1; i >= 0; i-- {
		e.cancels[i]()
	}
	return nil
}
