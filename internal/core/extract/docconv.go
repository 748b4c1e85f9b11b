package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/core"
)

// extractDocconv handles the binary office formats (PDF, DOCX) through
// docconv. Malformed input, encrypted files and extraction that yields no
// text all surface as UnreadableDocument.
func (e *Extractor) extractDocconv(ctx context.Context, p Payload, mimeType string) (*core.Document, error) {
	if len(p.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", core.ErrUnreadableDocument)
	}

	res, err := docconv.Convert(bytes.NewReader(p.Data), mimeType, false)
	if err != nil {
		e.logger.Warn("docconv extraction failed",
			zap.String("mime_type", mimeType), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", core.ErrUnreadableDocument, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Body) == "" {
		return nil, fmt.Errorf("%w: no extractable text", core.ErrUnreadableDocument)
	}

	title := strings.TrimSpace(res.Meta["Title"])
	if title == "" {
		title = titleFromFilename(p.Filename)
	}
	return &core.Document{
		Text: res.Body,
		Meta: core.DocumentMeta{Title: title},
	}, nil
}
