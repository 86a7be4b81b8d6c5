// Package extract pulls titles and absolute link targets out of fetched
// HTML documents.
package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// NoTitle is recorded for pages without a usable <title> element and
// for non-HTML content.
const NoTitle = "No Title"

// IsHTML reports whether a Content-Type header value indicates an HTML
// document.
func IsHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// Extractor parses HTML bodies. It delegates all parsing to goquery.
type Extractor struct {
	log *logrus.Entry
}

// New creates an Extractor.
func New(log *logrus.Entry) *Extractor {
	return &Extractor{log: log}
}

// Title returns the trimmed document title, or NoTitle when the body
// cannot be parsed or has no title element.
func (e *Extractor) Title(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.log.Debugf("Title extraction failed to parse HTML: %v", err)
		return NoTitle
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return NoTitle
	}
	return title
}

// Links returns the absolute URLs of every a[href] in the document,
// resolved against base, in document order with duplicates removed.
// Unparseable hrefs are skipped.
func (e *Extractor) Links(body []byte, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.log.Warnf("Link extraction failed to parse HTML: %v", err)
		return nil
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			e.log.Debugf("Skipping unparseable href '%s': %v", href, err)
			return
		}
		abs := resolved.String()
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})
	return links
}
