// Package filter implements the URL validity predicate applied before a
// discovered link may enter the frontier.
package filter

import (
	"net/url"
	"strings"
)

// Filter decides whether a discovered URL is eligible for enqueuing.
// Zero-value semantics: an empty domain allow-list means unrestricted,
// an empty blacklist rejects nothing.
type Filter struct {
	allowedDomains        []string
	blacklistedExtensions []string
}

// New creates a Filter. Allowed domains are matched case-insensitively;
// extensions are compared as literal suffixes of the path or fragment.
func New(allowedDomains, blacklistedExtensions []string) *Filter {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return &Filter{
		allowedDomains:        domains,
		blacklistedExtensions: blacklistedExtensions,
	}
}

// Valid reports whether rawURL may be enqueued. Unparseable URLs and
// non-http(s) schemes are invalid.
func (f *Filter) Valid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	for _, ext := range f.blacklistedExtensions {
		if strings.HasSuffix(u.Path, ext) || strings.HasSuffix(u.Fragment, ext) {
			return false
		}
	}

	if len(f.allowedDomains) == 0 {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range f.allowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
