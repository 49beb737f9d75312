package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/maltedev/listing-scraper/internal/models"
)

// hrefStrategy is one step of the product link lookup.
type hrefStrategy struct {
	name string
	find func(c *compiled, card *goquery.Selection) string
}

// hrefStrategies are tried in order; the first non-empty href wins.
var hrefStrategies = []hrefStrategy{
	{name: "marker-anchor", find: markerAnchor},
	{name: "shaped-anchor", find: shapedAnchor},
	{name: "card-anchor", find: cardAnchor},
	{name: "ancestor-anchor", find: ancestorAnchor},
}

func markerAnchor(c *compiled, card *goquery.Selection) string {
	var href string
	card.FindMatcher(c.anchor).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		v := strings.TrimSpace(a.AttrOr("href", ""))
		if strings.Contains(v, c.marker) {
			href = v
			return false
		}
		return true
	})
	return href
}

func shapedAnchor(c *compiled, card *goquery.Selection) string {
	var href string
	card.FindMatcher(c.anchor).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		v := strings.TrimSpace(a.AttrOr("href", ""))
		if v == "" {
			return true
		}
		if strings.Contains(v, c.marker) || (c.linkShape != nil && c.linkShape.MatchString(v)) {
			href = v
			return false
		}
		return true
	})
	return href
}

func cardAnchor(_ *compiled, card *goquery.Selection) string {
	if goquery.NodeName(card) != "a" {
		return ""
	}
	return strings.TrimSpace(card.AttrOr("href", ""))
}

func ancestorAnchor(_ *compiled, card *goquery.Selection) string {
	return strings.TrimSpace(card.ParentsFiltered("a").First().AttrOr("href", ""))
}

// FieldExtractor turns a single card into a record.
type FieldExtractor struct {
	c *compiled
}

// NewFieldExtractor builds an extractor from a cascade.
func NewFieldExtractor(cascade *Cascade) (*FieldExtractor, error) {
	c, err := cascade.compile()
	if err != nil {
		return nil, err
	}
	return &FieldExtractor{c: c}, nil
}

// Extract returns the record for one card, or false when the card has no
// usable product link. Missing name, price, rating or image fields are left
// empty.
func (e *FieldExtractor) Extract(card *goquery.Selection, base *url.URL, sourceURL string) (models.Record, bool) {
	href := e.productHref(card)
	if href == "" {
		return models.Record{}, false
	}

	productURL := Absolutize(base, href)
	if !e.c.isProductURL(productURL) {
		return models.Record{}, false
	}

	return models.Record{
		Name:       firstText(card, e.c.name),
		Price:      firstText(card, e.c.price),
		Rating:     firstText(card, e.c.rating),
		Image:      e.image(card, base, sourceURL),
		ProductURL: productURL,
		SourceURL:  sourceURL,
	}, true
}

func (e *FieldExtractor) productHref(card *goquery.Selection) string {
	for _, s := range hrefStrategies {
		if href := s.find(e.c, card); href != "" {
			return href
		}
	}
	return ""
}

// firstText returns the trimmed text of the first element matched by the
// highest-priority selector that matches anything.
func firstText(card *goquery.Selection, sels []cascadia.Selector) string {
	for _, sel := range sels {
		if m := card.FindMatcher(sel); m.Length() > 0 {
			return strings.TrimSpace(m.First().Text())
		}
	}
	return ""
}

func (e *FieldExtractor) image(card *goquery.Selection, base *url.URL, sourceURL string) string {
	img := card.FindMatcher(e.c.img).First()
	if img.Length() == 0 {
		return ""
	}

	var raw string
	for _, attr := range e.c.imageAttrs {
		if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" {
			raw = v
			break
		}
	}
	if raw == "" {
		if fields := strings.Fields(img.AttrOr("srcset", "")); len(fields) > 0 {
			raw = strings.TrimSuffix(fields[0], ",")
		}
	}
	if raw == "" {
		return ""
	}

	return resolveImage(raw, base, sourceURL)
}

// resolveImage makes an image reference absolute against the listing page.
// References that cannot be parsed are kept verbatim.
func resolveImage(raw string, base *url.URL, sourceURL string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	page, err := url.Parse(sourceURL)
	if err != nil || page.Host == "" {
		page = base
	}
	return page.ResolveReference(ref).String()
}
