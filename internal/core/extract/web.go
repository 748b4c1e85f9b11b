package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/chunk"
)

// extractWeb fetches a page through the proxy-aware fetcher and strips it
// down to readable text. Fetch failures keep their FetchError
// classification; unparseable HTML surfaces as UnreadableDocument.
func (e *Extractor) extractWeb(ctx context.Context, p Payload) (*core.Document, error) {
	if _, err := url.ParseRequestURI(p.URL); err != nil {
		return nil, fmt.Errorf("%w: invalid url %q", core.ErrUnreadableDocument, p.URL)
	}

	body, err := e.fetcher.Get(ctx, p.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnreadableDocument, err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = p.URL
	}

	doc.Find("script, style, noscript, svg, iframe, header nav, footer").Remove()
	var b strings.Builder
	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	// Block elements become paragraph boundaries so chunking can respect
	// the page structure.
	sel.Find("p, h1, h2, h3, h4, h5, h6, li, td, pre, blockquote, article, section, div").Each(
		func(_ int, s *goquery.Selection) {
			if s.Children().Length() > 0 {
				return // only leaf blocks, parents would duplicate text
			}
			t := strings.TrimSpace(s.Text())
			if t == "" {
				return
			}
			b.WriteString(t)
			b.WriteString("\n\n")
		})
	text := chunk.Normalize(b.String())
	if text == "" {
		text = chunk.Normalize(sel.Text())
	}
	if text == "" {
		return nil, fmt.Errorf("%w: page has no extractable text", core.ErrUnreadableDocument)
	}

	return &core.Document{
		Text: text,
		Meta: core.DocumentMeta{Title: title, URL: p.URL},
	}, nil
}
