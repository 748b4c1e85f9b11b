// Package lang holds the small per-language word lists used for chunk
// relevance scoring, topic extraction and language auto-detection. The
// sets are intentionally compact; they filter noise, they are not a full
// NLP stack.
package lang

import (
	"strings"
	"unicode"
)

var stopwords = map[string][]string{
	"pt": {
		"o", "a", "os", "as", "um", "uma", "uns", "umas", "de", "do", "da", "dos", "das",
		"em", "no", "na", "nos", "nas", "por", "para", "com", "sem", "sob", "sobre",
		"e", "ou", "mas", "que", "porque", "quando", "onde", "como", "qual", "quais",
		"é", "são", "foi", "eram", "ao", "aos", "à", "às", "pelo", "pela", "pelos", "pelas",
		"este", "esta", "estes", "estas", "esse", "essa", "esses", "essas", "aquele", "aquela",
		"não", "sim", "também", "já", "mais", "muito", "ser", "ter", "seu", "sua",
	},
	"en": {
		"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
		"in", "on", "at", "to", "for", "of", "and", "or", "but", "not",
		"this", "that", "these", "those", "it", "its", "with", "from", "by",
		"as", "do", "does", "did", "have", "has", "had", "will", "would",
		"can", "could", "should", "about", "into", "than", "then", "there",
		"what", "which", "who", "when", "where", "how", "why", "all", "also",
	},
	"es": {
		"el", "la", "los", "las", "un", "una", "unos", "unas", "de", "del",
		"en", "por", "para", "con", "sin", "sobre", "y", "o", "pero", "que",
		"porque", "cuando", "donde", "como", "cual", "es", "son", "fue", "eran",
		"al", "este", "esta", "estos", "estas", "ese", "esa", "esos", "esas",
		"no", "sí", "también", "ya", "más", "muy", "ser", "tener", "su", "sus",
	},
	"fr": {
		"le", "la", "les", "un", "une", "des", "de", "du", "en", "dans",
		"par", "pour", "avec", "sans", "sur", "et", "ou", "mais", "que",
		"parce", "quand", "où", "comment", "quel", "quelle", "est", "sont",
		"était", "au", "aux", "ce", "cette", "ces", "ne", "pas", "aussi",
		"déjà", "plus", "très", "être", "avoir", "son", "sa", "ses", "il", "elle",
	},
}

var stopwordSets = func() map[string]map[string]struct{} {
	sets := make(map[string]map[string]struct{}, len(stopwords))
	for lang, words := range stopwords {
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		sets[lang] = set
	}
	return sets
}()

// Supported reports whether lang has a stopword set.
func Supported(lang string) bool {
	_, ok := stopwordSets[normalize(lang)]
	return ok
}

// IsStopword reports whether w (lowercase) is a stopword in lang.
// Unsupported languages fall back to English.
func IsStopword(lang, w string) bool {
	set, ok := stopwordSets[normalize(lang)]
	if !ok {
		set = stopwordSets["en"]
	}
	_, hit := set[w]
	return hit
}

// Tokenize lowercases s and returns its alphabetic words.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// Detect guesses the language of text by stopword hit rate over the
// supported sets. Returns "en" when nothing stands out.
func Detect(text string) string {
	words := Tokenize(text)
	if len(words) > 400 {
		words = words[:400]
	}
	best, bestHits := "en", 0
	// Fixed iteration order keeps detection deterministic on ties.
	for _, lang := range []string{"en", "pt", "es", "fr"} {
		set := stopwordSets[lang]
		hits := 0
		for _, w := range words {
			if _, ok := set[w]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = lang, hits
		}
	}
	return best
}

func normalize(lang string) string {
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
