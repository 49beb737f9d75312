package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// FallbackStrategy names the anchor-driven locator used when no card
// selector matches.
const FallbackStrategy = "anchor-fallback"

// Locator finds the product-card nodes of a parsed listing page.
type Locator struct {
	c *compiled
}

// NewLocator builds a locator from a cascade.
func NewLocator(cascade *Cascade) (*Locator, error) {
	c, err := cascade.compile()
	if err != nil {
		return nil, err
	}
	return &Locator{c: c}, nil
}

// Locate walks the card selectors in order and returns the matches of the
// first one that hits anything, together with the selector that won. When
// none match it falls back to the containers of product links.
func (l *Locator) Locate(doc *goquery.Document) ([]*goquery.Selection, string) {
	for _, ns := range l.c.cards {
		matches := doc.FindMatcher(ns.sel)
		if matches.Length() == 0 {
			continue
		}
		cards := make([]*goquery.Selection, 0, matches.Length())
		for i := 0; i < matches.Length(); i++ {
			cards = append(cards, matches.Eq(i))
		}
		return cards, ns.raw
	}

	return l.fallback(doc), FallbackStrategy
}

// fallback maps every product link to its nearest enclosing container,
// keeping link order and dropping repeated containers.
func (l *Locator) fallback(doc *goquery.Document) []*goquery.Selection {
	seen := make(map[*html.Node]struct{})
	var cards []*goquery.Selection

	doc.FindMatcher(l.c.anchor).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(href, l.c.marker) {
			return
		}
		container := a.ClosestMatcher(l.c.container)
		if container.Length() == 0 {
			return
		}
		node := container.Get(0)
		if _, dup := seen[node]; dup {
			return
		}
		seen[node] = struct{}{}
		cards = append(cards, container)
	})

	return cards
}
