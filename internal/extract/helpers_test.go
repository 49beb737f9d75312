package extract

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const testSourceURL = "https://shop.example.com/men-tshirts?sort=new"

func parse(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body>" + body + "</body></html>"))
	require.NoError(t, err)
	return doc
}

func testBase(t *testing.T) *url.URL {
	t.Helper()
	base, err := BaseOrigin(testSourceURL)
	require.NoError(t, err)
	return base
}
