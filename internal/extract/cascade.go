package extract

import (
	"fmt"
	"regexp"

	"github.com/andybalholm/cascadia"
)

// Cascade holds every ordered selector list the engine walks. Lists are
// evaluated first-match-wins, so order is priority.
type Cascade struct {
	CardSelectors     []string `yaml:"card_selectors"`
	ProductMarker     string   `yaml:"product_marker"`
	ContainerSelector string   `yaml:"container_selector"`
	ProductLinkShape  string   `yaml:"product_link_shape"`
	NameSelectors     []string `yaml:"name_selectors"`
	PriceSelectors    []string `yaml:"price_selectors"`
	RatingSelectors   []string `yaml:"rating_selectors"`
	ImageAttributes   []string `yaml:"image_attributes"`
	ExcludedPaths     []string `yaml:"excluded_paths"`
	MinPathSegments   int      `yaml:"min_path_segments"`
}

// DefaultCascade returns the selector lists tuned for common storefront
// markup.
func DefaultCascade() *Cascade {
	return &Cascade{
		CardSelectors: []string{
			`.product-base`,
			`div[class*="product-base"]`,
			`li[class*="product"]`,
			`div[class*="ProductContainer"]`,
			`[data-automation-id="ProductCard"]`,
		},
		ProductMarker:     "/p/",
		ContainerSelector: "div, li, article, section",
		ProductLinkShape:  `/[^/]+/[^/]+/`,
		NameSelectors: []string{
			`h3`,
			`h4`,
			`[class*="product-brand"]`,
			`[class*="product-title"]`,
			`[class*="brand-name"]`,
			`[class*="product-name"]`,
		},
		PriceSelectors: []string{
			`[class*="price"]`,
			`[class*="discountedPrice"]`,
			`[class*="product-price"]`,
			`[class*="product-discountedPrice"]`,
		},
		RatingSelectors: []string{
			`[class*="rating"]`,
			`[class*="product-ratingsContainer"]`,
			`[class*="product-ratingsCount"]`,
		},
		ImageAttributes: []string{"src", "data-src", "data-lazy-src"},
		ExcludedPaths:   []string{"/search", "/account"},
		MinPathSegments: 3,
	}
}

// compiled is a Cascade with every selector parsed once.
type compiled struct {
	cards     []namedSelector
	container cascadia.Selector
	linkShape *regexp.Regexp
	name      []cascadia.Selector
	price     []cascadia.Selector
	rating    []cascadia.Selector
	img       cascadia.Selector
	anchor    cascadia.Selector

	marker      string
	imageAttrs  []string
	excluded    []string
	minSegments int
}

type namedSelector struct {
	raw string
	sel cascadia.Selector
}

// Validate reports the first structural problem with the cascade.
func (c *Cascade) Validate() error {
	_, err := c.compile()
	return err
}

func (c *Cascade) compile() (*compiled, error) {
	if c.ProductMarker == "" {
		return nil, fmt.Errorf("product_marker is required")
	}
	if c.MinPathSegments < 1 {
		return nil, fmt.Errorf("min_path_segments must be at least 1, got %d", c.MinPathSegments)
	}
	if c.ContainerSelector == "" {
		return nil, fmt.Errorf("container_selector is required")
	}

	out := &compiled{
		marker:      c.ProductMarker,
		imageAttrs:  c.ImageAttributes,
		excluded:    c.ExcludedPaths,
		minSegments: c.MinPathSegments,
		img:         cascadia.MustCompile("img"),
		anchor:      cascadia.MustCompile("a[href]"),
	}

	for _, raw := range c.CardSelectors {
		sel, err := cascadia.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid card selector %q: %w", raw, err)
		}
		out.cards = append(out.cards, namedSelector{raw: raw, sel: sel})
	}

	container, err := cascadia.Compile(c.ContainerSelector)
	if err != nil {
		return nil, fmt.Errorf("invalid container selector %q: %w", c.ContainerSelector, err)
	}
	out.container = container

	if c.ProductLinkShape != "" {
		re, err := regexp.Compile(c.ProductLinkShape)
		if err != nil {
			return nil, fmt.Errorf("invalid product link shape %q: %w", c.ProductLinkShape, err)
		}
		out.linkShape = re
	}

	if out.name, err = compileAll("name", c.NameSelectors); err != nil {
		return nil, err
	}
	if out.price, err = compileAll("price", c.PriceSelectors); err != nil {
		return nil, err
	}
	if out.rating, err = compileAll("rating", c.RatingSelectors); err != nil {
		return nil, err
	}

	return out, nil
}

func compileAll(field string, raws []string) ([]cascadia.Selector, error) {
	sels := make([]cascadia.Selector, 0, len(raws))
	for _, raw := range raws {
		sel, err := cascadia.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s selector %q: %w", field, raw, err)
		}
		sels = append(sels, sel)
	}
	return sels, nil
}
