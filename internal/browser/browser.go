package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/listing-scraper/internal/models"
)

// DesktopChromeUA is sent by both renderers unless overridden.
const DesktopChromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExecPath       string
	ExtraHeaders   map[string]string
	// Humanize moves the mouse over the page before scrolling.
	Humanize bool
	Settle   SettleOptions
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      DesktopChromeUA,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
		Settle: DefaultSettleOptions(),
	}
}

// launchArgs are the chromium flags used for container-friendly headless
// runs.
func launchArgs(opts *Options) []string {
	return []string{
		"--disable-blink-features=AutomationControlled",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-dev-shm-usage",
		"--disable-accelerated-2d-canvas",
		"--no-first-run",
		"--no-zygote",
		"--disable-gpu",
		fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		"--user-agent=" + opts.UserAgent,
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args:     launchArgs(opts),
	}
	if opts.ExecPath != "" {
		launchOpts.ExecutablePath = &opts.ExecPath
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}
	if opts.Locale != "" {
		contextOpts.Locale = &opts.Locale
	}
	if opts.TimezoneID != "" {
		contextOpts.TimezoneId = &opts.TimezoneID
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

// Render opens a fresh page, loads url until the network is idle, lets
// lazy content settle and returns the resulting HTML. The page is closed
// on every path.
func (b *Browser) Render(ctx context.Context, url string) (*models.Snapshot, error) {
	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := page.Close(); err != nil {
			b.logger.Warn("failed to close page", "error", err)
		}
	}()

	b.logger.Info("rendering", "url", url)

	if err := b.NavigateWithRetry(ctx, page, url, b.opts.Settle.NavRetries); err != nil {
		return nil, err
	}

	if b.opts.Humanize {
		if err := b.HumanizeInteraction(ctx, page); err != nil {
			return nil, err
		}
	}

	if err := settle(ctx, pageScroller{page}, b.opts.Settle); err != nil {
		return nil, fmt.Errorf("failed to settle page: %w", err)
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	return &models.Snapshot{
		URL:        url,
		FinalURL:   page.URL(),
		HTML:       html,
		RenderedAt: time.Now().UTC(),
	}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

// NavigateWithRetry loads url and waits for network idle. A timeout on the
// final attempt is reported as ErrRenderTimeout.
func (b *Browser) NavigateWithRetry(ctx context.Context, page playwright.Page, url string, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := sleep(ctx, time.Duration(i)*time.Second); err != nil {
				return err
			}
		}

		timeout := navTimeout(ctx, b.opts.Settle.NavTimeout)
		if timeout <= 0 {
			return fmt.Errorf("%w: %s", ErrRenderTimeout, url)
		}

		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
			Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		})
		if err == nil {
			return nil
		}

		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	if errors.Is(lastErr, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %s: %v", ErrRenderTimeout, url, lastErr)
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// HumanizeInteraction moves the mouse across the viewport in a few steps.
func (b *Browser) HumanizeInteraction(ctx context.Context, page playwright.Page) error {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200)
		y := float64(100 + i*150)
		if err := page.Mouse().Move(x, y); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		if err := sleep(ctx, time.Millisecond*time.Duration(200+i*100)); err != nil {
			return err
		}
	}
	return nil
}

type pageScroller struct {
	page playwright.Page
}

func (p pageScroller) scroll(_ context.Context, script string) error {
	if _, err := p.page.Evaluate(script); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}
