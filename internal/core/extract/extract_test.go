package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/fetch"
)

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	return New(fetch.New(nil, time.Second, nil), nil)
}

func TestExtractTXT(t *testing.T) {
	e := testExtractor(t)

	doc, err := e.Extract(context.Background(), core.SourceTXT, Payload{
		Data:     []byte("First paragraph.\n\nSecond paragraph."),
		Filename: "meeting_notes-2024.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, core.SourceTXT, doc.Kind)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", doc.Text)
	assert.Equal(t, "meeting notes 2024", doc.Meta.Title)
	assert.Equal(t, 1, doc.Meta.PageCount)
}

func TestExtractTXTStripsBOM(t *testing.T) {
	e := testExtractor(t)
	doc, err := e.Extract(context.Background(), core.SourceTXT, Payload{
		Data: append([]byte{0xEF, 0xBB, 0xBF}, []byte("content")...),
	})
	require.NoError(t, err)
	assert.Equal(t, "content", doc.Text)
}

func TestExtractTXTRejectsBadInput(t *testing.T) {
	e := testExtractor(t)
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"whitespace only", []byte("  \n\t ")},
		{"invalid utf-8", []byte{0xff, 0xfe, 0x41}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(context.Background(), core.SourceTXT, Payload{Data: tt.data})
			assert.ErrorIs(t, err, core.ErrUnreadableDocument)
		})
	}
}

func TestExtractCSV(t *testing.T) {
	e := testExtractor(t)
	csvData := "name,age,city\nAna,34,Lisbon\nBruno,28,Porto\n"

	doc, err := e.Extract(context.Background(), core.SourceCSV, Payload{
		Data: []byte(csvData), Filename: "people.csv",
	})
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "name: Ana")
	assert.Contains(t, doc.Text, "city: Porto")
	assert.Contains(t, doc.Text, "age: 28")
}

func TestExtractCSVHeaderOnly(t *testing.T) {
	e := testExtractor(t)
	doc, err := e.Extract(context.Background(), core.SourceCSV, Payload{Data: []byte("id,total\n")})
	require.NoError(t, err)
	assert.Equal(t, "id, total", doc.Text)
}

func TestExtractCSVMalformed(t *testing.T) {
	e := testExtractor(t)
	_, err := e.Extract(context.Background(), core.SourceCSV, Payload{
		Data: []byte("a,\"unterminated\nb,2"),
	})
	assert.ErrorIs(t, err, core.ErrUnreadableDocument)
}

// docxBytes builds a minimal DOCX archive around the given
// word/document.xml content.
func docxBytes(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	e := testExtractor(t)
	data := docxBytes(t, `<?xml version="1.0"?>`+
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">`+
		`<w:body><w:p><w:r><w:t>Quarterly revenue grew in every region.</w:t></w:r></w:p></w:body></w:document>`)

	doc, err := e.Extract(context.Background(), core.SourceDOCX, Payload{Data: data, Filename: "q3_report.docx"})
	require.NoError(t, err)
	assert.Equal(t, core.SourceDOCX, doc.Kind)
	assert.Contains(t, doc.Text, "Quarterly revenue grew in every region.")
	assert.Equal(t, "q3 report", doc.Meta.Title)
}

func TestExtractDOCXWithoutText(t *testing.T) {
	e := testExtractor(t)
	data := docxBytes(t, `<?xml version="1.0"?>`+
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">`+
		`<w:body><w:p/></w:body></w:document>`)

	_, err := e.Extract(context.Background(), core.SourceDOCX, Payload{Data: data, Filename: "blank.docx"})
	assert.ErrorIs(t, err, core.ErrUnreadableDocument)
}

func TestExtractOfficeEmptyPayload(t *testing.T) {
	e := testExtractor(t)
	for _, kind := range []core.SourceKind{core.SourcePDF, core.SourceDOCX} {
		t.Run(string(kind), func(t *testing.T) {
			_, err := e.Extract(context.Background(), kind, Payload{Filename: "report"})
			assert.ErrorIs(t, err, core.ErrUnreadableDocument)
		})
	}
}

func TestExtractOfficeCorruptedBytes(t *testing.T) {
	e := testExtractor(t)
	garbage := []byte("\x00\x01 not an office file \xff\xfe")
	for _, kind := range []core.SourceKind{core.SourcePDF, core.SourceDOCX} {
		t.Run(string(kind), func(t *testing.T) {
			_, err := e.Extract(context.Background(), kind, Payload{Data: garbage, Filename: "broken"})
			assert.ErrorIs(t, err, core.ErrUnreadableDocument)
		})
	}
}

func TestExtractUnknownKind(t *testing.T) {
	e := testExtractor(t)
	_, err := e.Extract(context.Background(), core.SourceKind("tarball"), Payload{Data: []byte("x")})
	assert.ErrorIs(t, err, core.ErrUnreadableDocument)
}

func TestExtractWeb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Quarterly Report</title>
			<script>ignored();</script></head>
			<body><h1>Results</h1><p>Revenue grew this quarter.</p>
			<p>Costs stayed flat.</p></body></html>`))
	}))
	t.Cleanup(srv.Close)
	e := testExtractor(t)

	doc, err := e.Extract(context.Background(), core.SourceWeb, Payload{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Report", doc.Meta.Title)
	assert.Contains(t, doc.Text, "Revenue grew this quarter.")
	assert.Contains(t, doc.Text, "Costs stayed flat.")
	assert.NotContains(t, doc.Text, "ignored")
}

func TestExtractWebEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><script>only();</script></body></html>"))
	}))
	t.Cleanup(srv.Close)
	e := testExtractor(t)

	_, err := e.Extract(context.Background(), core.SourceWeb, Payload{URL: srv.URL})
	assert.ErrorIs(t, err, core.ErrUnreadableDocument)
}

func TestParseVideoID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ", true},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://example.com/video", "", false},
		{"not a url at all", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseVideoID(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestPickTrackPrefersHumanCaptions(t *testing.T) {
	tracks := []captionTrack{
		{BaseURL: "u1", LanguageCode: "en", Kind: "asr"},
		{BaseURL: "u2", LanguageCode: "pt"},
		{BaseURL: "u3", LanguageCode: "en"},
	}

	got := pickTrack(tracks, []string{"en", "pt"})
	assert.Equal(t, "u3", got.BaseURL, "human-authored track wins over asr")

	got = pickTrack(tracks, []string{"pt", "en"})
	assert.Equal(t, "u2", got.BaseURL)

	got = pickTrack(tracks, []string{"fr"})
	assert.Equal(t, "u1", got.BaseURL, "no language match falls back to first track")
}

func TestParseCaptionTracks(t *testing.T) {
	page := []byte(`...,"captionTracks":[{"baseUrl":"https://yt/tt?v=1","languageCode":"pt","kind":"asr"}],"next":...`)
	tracks, err := parseCaptionTracks(page)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "pt", tracks[0].LanguageCode)
	assert.Equal(t, "asr", tracks[0].Kind)

	_, err = parseCaptionTracks([]byte("<html>no captions here</html>"))
	assert.ErrorIs(t, err, core.ErrTranscriptUnavailable)
}

func TestParseTranscript(t *testing.T) {
	raw := []byte(`<?xml version="1.0"?><transcript>
		<text start="0.0" dur="2.1">Hello &amp; welcome</text>
		<text start="2.1" dur="1.0">to the video</text>
		<text start="3.1" dur="1.0">   </text>
	</transcript>`)

	text, err := parseTranscript(raw)
	require.NoError(t, err)
	assert.Equal(t, "Hello & welcome to the video", text)

	_, err = parseTranscript([]byte("<transcript></transcript>"))
	assert.ErrorIs(t, err, core.ErrTranscriptUnavailable)
}

func TestPreferredLanguages(t *testing.T) {
	assert.Equal(t, []string{"pt", "pt-BR", "en"}, preferredLanguages(""))
	assert.Equal(t, []string{"es", "pt", "pt-BR", "en"}, preferredLanguages("es"))
	assert.Equal(t, []string{"en", "pt", "pt-BR"}, preferredLanguages("en"))
}

func TestEstimatePages(t *testing.T) {
	assert.Equal(t, 1, estimatePages("short"))
	assert.Equal(t, 3, estimatePages(string(make([]byte, 9500))))
	assert.Equal(t, 4, estimatePages("a\fb\fc\fd"))
}
