package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidSourceURL is returned when the listing URL has no usable origin.
var ErrInvalidSourceURL = errors.New("invalid source url")

// BaseOrigin returns scheme and host of a listing URL as a URL value with
// nothing else set.
func BaseOrigin(sourceURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSourceURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidSourceURL)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// Absolutize turns an href taken from the page into an absolute URL.
// Absolute http(s) links pass through, protocol-relative links take the
// base scheme and anything else is joined onto the base origin with
// exactly one slash.
func Absolutize(base *url.URL, href string) string {
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		return base.Scheme + ":" + href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return base.Scheme + "://" + base.Host + href
}

// isProductURL applies the shape rules a resolved link must pass to be
// kept: enough path segments and none of the excluded path fragments.
func (c *compiled) isProductURL(resolved string) bool {
	u, err := url.Parse(resolved)
	if err != nil || u.Host == "" {
		return false
	}

	segments := 0
	for _, part := range strings.Split(u.EscapedPath(), "/") {
		if part != "" {
			segments++
		}
	}
	if segments < c.minSegments {
		return false
	}

	for _, fragment := range c.excluded {
		if strings.Contains(resolved, fragment) {
			return false
		}
	}
	return true
}
