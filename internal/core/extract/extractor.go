// Package extract turns raw sources (uploaded bytes or URLs) into the
// canonical Document representation. Local parsing is pure; only the web
// and YouTube extractors touch the network, via the proxy-aware fetcher.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/fetch"
)

// charsPerPage is the page estimate used when the source carries no
// explicit page information.
const charsPerPage = 3000

// Payload is the raw input for one extraction: file bytes plus filename
// for upload kinds, or a URL for web and YouTube kinds.
type Payload struct {
	Data     []byte
	Filename string
	URL      string
	// Language is the caller's preferred content language (BCP 47 two
	// letter code); the YouTube extractor uses it for caption selection.
	Language string
}

// Extractor dispatches to the per-kind extraction routines.
type Extractor struct {
	fetcher *fetch.Client
	logger  *zap.Logger
}

func New(fetcher *fetch.Client, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, logger: logger}
}

// Extract converts the payload into a Document. On success the document
// text is non-empty; failures map onto the ingestion error taxonomy.
func (e *Extractor) Extract(ctx context.Context, kind core.SourceKind, p Payload) (*core.Document, error) {
	var (
		doc *core.Document
		err error
	)
	switch kind {
	case core.SourcePDF:
		doc, err = e.extractDocconv(ctx, p, "application/pdf")
	case core.SourceDOCX:
		doc, err = e.extractDocconv(ctx, p,
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	case core.SourceCSV:
		doc, err = extractCSV(p)
	case core.SourceTXT:
		doc, err = extractTXT(p)
	case core.SourceWeb:
		doc, err = e.extractWeb(ctx, p)
	case core.SourceYouTube:
		doc, err = e.extractYouTube(ctx, p)
	default:
		return nil, fmt.Errorf("%w: unsupported source kind %q", core.ErrUnreadableDocument, kind)
	}
	if err != nil {
		return nil, err
	}
	doc.Kind = kind
	if doc.Meta.PageCount == 0 {
		doc.Meta.PageCount = estimatePages(doc.Text)
	}
	e.logger.Info("document extracted",
		zap.String("kind", string(kind)),
		zap.String("title", doc.Meta.Title),
		zap.Int("chars", len(doc.Text)),
		zap.Int("pages", doc.Meta.PageCount))
	return doc, nil
}

// titleFromFilename derives a display title from an uploaded file's name.
func titleFromFilename(name string) string {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	return strings.TrimSpace(base)
}

// estimatePages approximates page count from text length. Form feeds,
// when present, mark real page breaks (PDF extraction emits them).
func estimatePages(text string) int {
	if ff := strings.Count(text, "\f"); ff > 0 {
		return ff + 1
	}
	n := len(text) / charsPerPage
	if n < 1 {
		return 1
	}
	return n
}
