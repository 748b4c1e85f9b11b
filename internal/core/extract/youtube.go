package extract

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/chunk"
)

var (
	videoIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([^&\n?#/]+)`),
		regexp.MustCompile(`youtube\.com/embed/([^&\n?#/]+)`),
		regexp.MustCompile(`youtube\.com/v/([^&\n?#/]+)`),
	}
	bareVideoID   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	captionTracks = regexp.MustCompile(`"captionTracks":(\[.+?\])`)
	pageTitle     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// ParseVideoID resolves a YouTube video id from a watch/share/embed URL,
// or accepts a bare 11-character id.
func ParseVideoID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			return m[1], true
		}
	}
	if bareVideoID.MatchString(raw) {
		return raw, true
	}
	return "", false
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" marks auto-generated tracks
}

type timedText struct {
	Texts []struct {
		Body string `xml:",chardata"`
	} `xml:"text"`
}

// extractYouTube resolves the video id, pulls the watch page through the
// fetcher and downloads the best-matching caption track. Missing captions
// yield TranscriptUnavailable; a blocked network origin surfaces as
// RateLimited from the fetcher and is never retried here.
func (e *Extractor) extractYouTube(ctx context.Context, p Payload) (*core.Document, error) {
	videoID, ok := ParseVideoID(p.URL)
	if !ok {
		return nil, fmt.Errorf("%w: not a youtube url or video id: %q", core.ErrUnreadableDocument, p.URL)
	}

	watchURL := "https://www.youtube.com/watch?v=" + videoID
	page, err := e.fetcher.Get(ctx, watchURL)
	if err != nil {
		return nil, err
	}

	tracks, err := parseCaptionTracks(page)
	if err != nil {
		return nil, err
	}
	track := pickTrack(tracks, preferredLanguages(p.Language))
	e.logger.Info("caption track selected",
		zap.String("video_id", videoID),
		zap.String("language", track.LanguageCode),
		zap.Bool("auto_generated", track.Kind == "asr"))

	raw, err := e.fetcher.Get(ctx, track.BaseURL)
	if err != nil {
		return nil, err
	}
	text, err := parseTranscript(raw)
	if err != nil {
		return nil, err
	}

	return &core.Document{
		Text: text,
		Meta: core.DocumentMeta{
			Title:    videoTitle(page, videoID),
			URL:      watchURL,
			Language: track.LanguageCode,
		},
	}, nil
}

// preferredLanguages returns the caption language preference order: the
// caller's language first, then the default pt / pt-BR / en order.
func preferredLanguages(lang string) []string {
	defaults := []string{"pt", "pt-BR", "en"}
	if lang == "" {
		return defaults
	}
	out := []string{lang}
	for _, d := range defaults {
		if d != lang {
			out = append(out, d)
		}
	}
	return out
}

func parseCaptionTracks(page []byte) ([]captionTrack, error) {
	m := captionTracks.FindSubmatch(page)
	if m == nil {
		return nil, core.ErrTranscriptUnavailable
	}
	var tracks []captionTrack
	if err := json.Unmarshal(m[1], &tracks); err != nil {
		return nil, fmt.Errorf("%w: caption metadata unparseable: %v", core.ErrTranscriptUnavailable, err)
	}
	if len(tracks) == 0 {
		return nil, core.ErrTranscriptUnavailable
	}
	return tracks, nil
}

// pickTrack walks the language preference order, favoring human-authored
// tracks over auto-generated ones, and falls back to the first track.
func pickTrack(tracks []captionTrack, langs []string) captionTrack {
	for _, lang := range langs {
		var asr *captionTrack
		for i, t := range tracks {
			if !strings.EqualFold(t.LanguageCode, lang) {
				continue
			}
			if t.Kind != "asr" {
				return t
			}
			if asr == nil {
				asr = &tracks[i]
			}
		}
		if asr != nil {
			return *asr
		}
	}
	return tracks[0]
}

func parseTranscript(raw []byte) (string, error) {
	var tt timedText
	if err := xml.Unmarshal(raw, &tt); err != nil {
		return "", fmt.Errorf("%w: transcript unparseable: %v", core.ErrTranscriptUnavailable, err)
	}
	var b strings.Builder
	for _, t := range tt.Texts {
		s := strings.TrimSpace(html.UnescapeString(t.Body))
		if s == "" {
			continue
		}
		b.WriteString(s)
		b.WriteString(" ")
	}
	text := chunk.Normalize(b.String())
	if text == "" {
		return "", core.ErrTranscriptUnavailable
	}
	return text, nil
}

func videoTitle(page []byte, videoID string) string {
	if m := pageTitle.FindSubmatch(page); m != nil {
		t := html.UnescapeString(strings.TrimSpace(string(m[1])))
		t = strings.TrimSuffix(t, " - YouTube")
		if t != "" {
			return t
		}
	}
	return videoID
}
