package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/maltedev/listing-scraper/internal/models"
)

// ChromeRenderer drives a local Chrome over the DevTools protocol. One
// browser process is kept for the renderer's lifetime and every Render gets
// its own tab.
type ChromeRenderer struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	opts          *Options
	logger        *slog.Logger
}

func chromeAllocatorOptions(opts *Options) []chromedp.ExecAllocatorOption {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.Flag("no-zygote", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("lang", opts.Locale),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}
	return allocOpts
}

func NewChromeRenderer(opts *Options, logger *slog.Logger) (*ChromeRenderer, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), chromeAllocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	return &ChromeRenderer{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		opts:          opts,
		logger:        logger.With("component", "chrome"),
	}, nil
}

// Render loads url in a new tab and waits for the networkIdle lifecycle
// event of that navigation before settling.
func (c *ChromeRenderer) Render(ctx context.Context, url string) (*models.Snapshot, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	c.logger.Info("rendering", "url", url)

	timeout := navTimeout(ctx, c.opts.Settle.NavTimeout)
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrRenderTimeout, url)
	}

	idle := newIdleWaiter()
	chromedp.ListenTarget(tabCtx, idle.handle)

	navCtx, navCancel := context.WithTimeout(tabCtx, timeout)
	err := chromedp.Run(navCtx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(url),
		idle.wait(),
	)
	navCancel()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrRenderTimeout, url)
		}
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}

	if err := settle(ctx, chromeScroller{tabCtx}, c.opts.Settle); err != nil {
		return nil, fmt.Errorf("failed to settle page: %w", err)
	}

	var html, finalURL string
	if err := chromedp.Run(tabCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	); err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	return &models.Snapshot{
		URL:        url,
		FinalURL:   finalURL,
		HTML:       html,
		RenderedAt: time.Now().UTC(),
	}, nil
}

func (c *ChromeRenderer) Close() error {
	c.browserCancel()
	c.allocCancel()
	return nil
}

type chromeScroller struct {
	tabCtx context.Context
}

func (s chromeScroller) scroll(_ context.Context, script string) error {
	var ok bool
	if err := chromedp.Run(s.tabCtx, chromedp.Evaluate("("+script+", true)", &ok)); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

// idleWaiter tracks lifecycle events of one navigation. The first init
// event names the loader; networkIdle only counts for that loader.
type idleWaiter struct {
	mu     sync.Mutex
	loader string
	done   chan struct{}
	closed bool
}

func newIdleWaiter() *idleWaiter {
	return &idleWaiter{done: make(chan struct{})}
}

func (w *idleWaiter) handle(ev interface{}) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch e.Name {
	case "init":
		if w.loader == "" {
			w.loader = string(e.LoaderID)
		}
	case "networkIdle":
		if w.closed || w.loader == "" || string(e.LoaderID) != w.loader {
			return
		}
		w.closed = true
		close(w.done)
	}
}

func (w *idleWaiter) wait() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		select {
		case <-w.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
