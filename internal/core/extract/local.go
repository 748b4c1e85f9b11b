package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/analysedoc/analysedoc/internal/core"
)

// extractTXT validates and passes through plain text uploads.
func extractTXT(p Payload) (*core.Document, error) {
	data := bytes.TrimPrefix(p.Data, []byte{0xEF, 0xBB, 0xBF})
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty text file", core.ErrUnreadableDocument)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text file is not valid UTF-8", core.ErrUnreadableDocument)
	}
	return &core.Document{
		Text: string(data),
		Meta: core.DocumentMeta{Title: titleFromFilename(p.Filename)},
	}, nil
}

// extractCSV renders each record as "header: value" lines with records
// separated by blank lines, so tabular data reads naturally in prompts.
func extractCSV(p Payload) (*core.Document, error) {
	if len(bytes.TrimSpace(p.Data)) == 0 {
		return nil, fmt.Errorf("%w: empty csv file", core.ErrUnreadableDocument)
	}

	r := csv.NewReader(bytes.NewReader(p.Data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed csv: %v", core.ErrUnreadableDocument, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: csv has no rows", core.ErrUnreadableDocument)
	}

	header := records[0]
	var b strings.Builder
	for _, row := range records[1:] {
		for i, field := range row {
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(field))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		// Header-only files still describe their schema.
		text = strings.Join(header, ", ")
	}
	return &core.Document{
		Text: text,
		Meta: core.DocumentMeta{Title: titleFromFilename(p.Filename)},
	}, nil
}
