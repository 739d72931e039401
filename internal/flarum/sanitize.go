package flarum

import (
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// htmlFallbackMarker prefixes content that could not be converted to
// Markdown, so downstream consumers can detect raw HTML.
const htmlFallbackMarker = "<!-- HTML -->"

// Sanitizer normalizes Flarum post HTML into Markdown and extracts the
// reply target from mention markup. It is pure: no I/O, deterministic, and
// safe for concurrent use.
type Sanitizer struct {
	conv *md.Converter
}

// NewSanitizer constructs a Sanitizer with a shared Markdown converter.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{conv: md.NewConverter("", true, nil)}
}

// Sanitize turns raw post HTML into (reply-to id, Markdown content).
//
// Mention handling, in document order:
//   - deleted-mention markers (.PostMention--deleted) are removed entirely,
//     including their text;
//   - the first mention carrying a numeric data-id becomes the reply target;
//   - all remaining mention anchors are dropped, markup and text alike.
//
// If Markdown conversion fails the original HTML is returned behind a
// machine-readable marker so no content is lost. The result is trimmed.
func (s *Sanitizer) Sanitize(html string) (int64, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, strings.TrimSpace(htmlFallbackMarker + html)
	}

	doc.Find(".PostMention--deleted").Remove()

	var replyTo int64
	doc.Find(".PostMention[data-id]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw, ok := sel.Attr("data-id")
		if !ok {
			return true
		}
		id, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || id <= 0 {
			return true
		}
		replyTo = id
		return false
	})

	doc.Find("a.PostMention").Remove()

	body, err := doc.Find("body").Html()
	if err != nil {
		return replyTo, strings.TrimSpace(htmlFallbackMarker + html)
	}

	markdown, err := s.conv.ConvertString(body)
	if err != nil {
		return replyTo, strings.TrimSpace(htmlFallbackMarker + html)
	}
	return replyTo, strings.TrimSpace(markdown)
}
