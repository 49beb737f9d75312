package extract

import (
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardIDs(cards []*goquery.Selection) []string {
	ids := make([]string, 0, len(cards))
	for _, c := range cards {
		ids = append(ids, c.AttrOr("id", ""))
	}
	return ids
}

func TestLocator_Locate(t *testing.T) {
	locator, err := NewLocator(DefaultCascade())
	require.NoError(t, err)

	tests := []struct {
		name         string
		body         string
		wantStrategy string
		wantIDs      []string
	}{
		{
			name: "first pattern wins over later patterns",
			body: `
				<ul>
					<li class="product-tile" id="tile-1"></li>
				</ul>
				<div class="product-base" id="base-1"></div>
				<div class="product-base" id="base-2"></div>`,
			wantStrategy: ".product-base",
			wantIDs:      []string{"base-1", "base-2"},
		},
		{
			name: "later pattern used when earlier ones miss",
			body: `
				<ul>
					<li class="product-tile" id="tile-1"></li>
					<li class="product-tile" id="tile-2"></li>
				</ul>
				<div class="ProductContainer" id="pc-1"></div>`,
			wantStrategy: `li[class*="product"]`,
			wantIDs:      []string{"tile-1", "tile-2"},
		},
		{
			name:         "attribute pattern",
			body:         `<section data-automation-id="ProductCard" id="card-1"></section>`,
			wantStrategy: `[data-automation-id="ProductCard"]`,
			wantIDs:      []string{"card-1"},
		},
		{
			name: "anchor fallback dedupes containers and keeps link order",
			body: `
				<article id="second">
					<a href="/brand/shoe/p/9">Shoe</a>
				</article>
				<div id="first">
					<a href="/brand/shirt/p/1">Shirt</a>
					<a href="/brand/shirt/p/1#reviews">Reviews</a>
				</div>
				<div id="other"><a href="/about/us/team">About</a></div>`,
			wantStrategy: FallbackStrategy,
			wantIDs:      []string{"second", "first"},
		},
		{
			name:         "anchor without container ancestor yields nothing",
			body:         `<a href="/brand/shirt/p/1">Shirt</a>`,
			wantStrategy: FallbackStrategy,
			wantIDs:      []string{},
		},
		{
			name:         "empty page",
			body:         ``,
			wantStrategy: FallbackStrategy,
			wantIDs:      []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cards, strategy := locator.Locate(parse(t, tt.body))
			assert.Equal(t, tt.wantStrategy, strategy)
			assert.Equal(t, tt.wantIDs, cardIDs(cards))
		})
	}
}

func TestLocator_FallbackContainerIncludesSelf(t *testing.T) {
	locator, err := NewLocator(DefaultCascade())
	require.NoError(t, err)

	cascade := DefaultCascade()
	cascade.ContainerSelector = "a, div"
	selfLocator, err := NewLocator(cascade)
	require.NoError(t, err)

	doc := parse(t, `<a id="link" href="/brand/shirt/p/1">Shirt</a>`)

	cards, _ := locator.Locate(doc)
	assert.Empty(t, cards)

	cards, _ = selfLocator.Locate(doc)
	assert.Equal(t, []string{"link"}, cardIDs(cards))
}

func TestNewLocator_InvalidCascade(t *testing.T) {
	cascade := DefaultCascade()
	cascade.CardSelectors = []string{"div[["}
	_, err := NewLocator(cascade)
	assert.Error(t, err)

	cascade = DefaultCascade()
	cascade.ProductMarker = ""
	_, err = NewLocator(cascade)
	assert.Error(t, err)
}
