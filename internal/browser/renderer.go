package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
)

// ErrRenderTimeout is returned when navigation does not settle in time.
var ErrRenderTimeout = errors.New("page render timed out")

// Renderer turns a listing URL into a fully rendered HTML snapshot.
type Renderer interface {
	Render(ctx context.Context, url string) (*models.Snapshot, error)
	Close() error
}

const (
	KindPlaywright = "playwright"
	KindChromedp   = "chromedp"
)

// Open launches the renderer named by kind.
func Open(kind string, opts *Options, logger *slog.Logger) (Renderer, error) {
	switch kind {
	case KindPlaywright, "":
		b, err := New(opts, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindChromedp:
		c, err := NewChromeRenderer(opts, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", kind)
	}
}

// SettleOptions controls how long a page is given to load lazy content.
type SettleOptions struct {
	NavTimeout    time.Duration
	NavRetries    int
	InitialSettle time.Duration
	ScrollSteps   int
	ScrollDelay   time.Duration
	FinalSettle   time.Duration
}

func DefaultSettleOptions() SettleOptions {
	return SettleOptions{
		NavTimeout:    60 * time.Second,
		NavRetries:    1,
		InitialSettle: 3 * time.Second,
		ScrollSteps:   5,
		ScrollDelay:   time.Second,
		FinalSettle:   time.Second,
	}
}

const (
	scrollStepScript = `window.scrollBy(0, window.innerHeight)`
	scrollTopScript  = `window.scrollTo(0, 0)`
)

// scroller runs a scroll script in the page being rendered.
type scroller interface {
	scroll(ctx context.Context, script string) error
}

// settle waits for the initial render, scrolls one viewport per step so
// lazy-loaded cards appear, then returns to the top and waits once more.
func settle(ctx context.Context, s scroller, opts SettleOptions) error {
	if err := sleep(ctx, opts.InitialSettle); err != nil {
		return err
	}

	for i := 0; i < opts.ScrollSteps; i++ {
		if err := s.scroll(ctx, scrollStepScript); err != nil {
			return err
		}
		if err := sleep(ctx, opts.ScrollDelay); err != nil {
			return err
		}
	}

	if err := s.scroll(ctx, scrollTopScript); err != nil {
		return err
	}
	return sleep(ctx, opts.FinalSettle)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// navTimeout is the smaller of the configured timeout and what is left of
// the caller's deadline.
func navTimeout(ctx context.Context, configured time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < configured {
			return left
		}
	}
	return configured
}
