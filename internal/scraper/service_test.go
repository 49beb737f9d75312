package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/extract"
	"github.com/maltedev/listing-scraper/internal/metrics"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
	"github.com/maltedev/listing-scraper/internal/sink"
)

type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(ctx context.Context, url string) (*models.Snapshot, error) {
	args := m.Called(ctx, url)
	if snap := args.Get(0); snap != nil {
		return snap.(*models.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRenderer) Close() error {
	return m.Called().Error(0)
}

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Wait(ctx context.Context, rawURL string) error {
	return m.Called(ctx, rawURL).Error(0)
}

func (m *MockLimiter) RecordSuccess(rawURL string) {
	m.Called(rawURL)
}

func (m *MockLimiter) RecordError(rawURL string) {
	m.Called(rawURL)
}

const listingURL = "https://shop.example.com/men-tshirts"

const listingPage = `<html><body>
<div class="product-base">
  <a href="/p/item-1"><h3 class="product-title">Tee One</h3></a>
  <span class="price">$10</span>
</div>
<div class="product-base">
  <a href="/p/item-2"><h3 class="product-title">Tee Two</h3></a>
</div>
</body></html>`

func newTestService(t *testing.T, renderer browser.Renderer, limiter ratelimit.RateLimiter) (*Service, *sink.FileStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sink.NewFileStore("")
	require.NoError(t, err)
	orch, err := extract.NewOrchestrator(nil, store, logger)
	require.NoError(t, err)

	return NewService(renderer, limiter, orch, metrics.New(), logger), store
}

func TestService_Scrape(t *testing.T) {
	renderer := new(MockRenderer)
	limiter := new(MockLimiter)
	renderer.On("Render", mock.Anything, listingURL).Return(&models.Snapshot{
		URL:      listingURL,
		FinalURL: listingURL,
		HTML:     listingPage,
	}, nil)
	limiter.On("Wait", mock.Anything, listingURL).Return(nil)
	limiter.On("RecordSuccess", listingURL).Return()

	svc, store := newTestService(t, renderer, limiter)

	res, err := svc.Scrape(context.Background(), listingURL)
	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{Saved: 2, Skipped: 0, Total: 2}, res)
	assert.Equal(t, 2, store.Count())

	res, err = svc.Scrape(context.Background(), listingURL)
	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{Saved: 0, Skipped: 2, Total: 2}, res)

	renderer.AssertExpectations(t)
	limiter.AssertExpectations(t)
	limiter.AssertNotCalled(t, "RecordError", mock.Anything)
}

func TestService_Scrape_RenderFailure(t *testing.T) {
	renderer := new(MockRenderer)
	limiter := new(MockLimiter)
	renderer.On("Render", mock.Anything, listingURL).Return(nil, browser.ErrRenderTimeout)
	limiter.On("Wait", mock.Anything, listingURL).Return(nil)
	limiter.On("RecordError", listingURL).Return()

	svc, store := newTestService(t, renderer, limiter)

	res, err := svc.Scrape(context.Background(), listingURL)
	assert.ErrorIs(t, err, browser.ErrRenderTimeout)
	assert.Equal(t, models.BatchResult{}, res)
	assert.Zero(t, store.Count())

	limiter.AssertExpectations(t)
	limiter.AssertNotCalled(t, "RecordSuccess", mock.Anything)
}

func TestService_Scrape_InvalidURL(t *testing.T) {
	renderer := new(MockRenderer)
	svc, _ := newTestService(t, renderer, nil)

	for _, raw := range []string{"", "not a url", "ftp://shop.example.com/list", "/relative/path"} {
		_, err := svc.Scrape(context.Background(), raw)
		assert.ErrorIs(t, err, extract.ErrInvalidSourceURL, raw)
	}
	renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
}

func TestService_Scrape_RateLimitCancelled(t *testing.T) {
	renderer := new(MockRenderer)
	limiter := new(MockLimiter)
	limiter.On("Wait", mock.Anything, listingURL).Return(context.Canceled)

	svc, _ := newTestService(t, renderer, limiter)

	_, err := svc.Scrape(context.Background(), listingURL)
	assert.True(t, errors.Is(err, context.Canceled))
	renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
}

func TestService_Close(t *testing.T) {
	renderer := new(MockRenderer)
	renderer.On("Close").Return(nil)
	svc, _ := newTestService(t, renderer, nil)

	assert.NoError(t, svc.Close())
	renderer.AssertExpectations(t)
}
