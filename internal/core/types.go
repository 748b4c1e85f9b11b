package core

// SourceKind identifies where a document came from and how to extract it.
type SourceKind string

const (
	SourcePDF     SourceKind = "pdf"
	SourceDOCX    SourceKind = "docx"
	SourceCSV     SourceKind = "csv"
	SourceTXT     SourceKind = "txt"
	SourceWeb     SourceKind = "web"
	SourceYouTube SourceKind = "youtube"
)

// KnownSourceKind reports whether k is one of the supported source kinds.
func KnownSourceKind(k SourceKind) bool {
	switch k {
	case SourcePDF, SourceDOCX, SourceCSV, SourceTXT, SourceWeb, SourceYouTube:
		return true
	}
	return false
}

// DocumentMeta carries optional metadata derived during extraction.
// Language stays empty when the extractor cannot determine it; the
// summarizer auto-detects in that case.
type DocumentMeta struct {
	Title     string `json:"title,omitempty"`
	URL       string `json:"url,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Document is the canonical text representation of an ingested source.
// Immutable once produced; Text is non-empty on success.
type Document struct {
	Kind SourceKind   `json:"kind"`
	Text string       `json:"-"`
	Meta DocumentMeta `json:"meta"`
}

// Chunk is a bounded contiguous slice of a Document's normalized text.
// Overlap is the number of leading bytes duplicated from the previous
// chunk, so that concatenating Text[Overlap:] across the ordered sequence
// reconstructs the normalized text exactly.
type Chunk struct {
	Index         int    `json:"index"`
	Text          string `json:"text"`
	TokenEstimate int    `json:"token_estimate"`
	Overlap       int    `json:"overlap"`
}

// Role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation history. Seq is assigned by the
// conversation and is strictly monotonic. Truncated marks assistant turns
// whose stream was cancelled mid-generation.
type Turn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Seq       int    `json:"seq"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ProviderName selects one of the supported LLM backends.
type ProviderName string

const (
	ProviderGroq   ProviderName = "groq"
	ProviderOpenAI ProviderName = "openai"
	ProviderGemini ProviderName = "gemini"
)

// ProviderConfig is supplied by the caller at session initialization and
// is immutable for the session's lifetime. ContextWindow is the combined
// input budget in tokens; zero means the provider default for the model.
type ProviderConfig struct {
	Provider        ProviderName
	Model           string
	APIKey          string
	Temperature     float64
	MaxOutputTokens int
	ContextWindow   int
}

// Message is one entry of a prompt payload sent to a provider.
type Message struct {
	Role    Role
	Content string
}

// PromptPayload is the assembled input for a single completion request.
type PromptPayload struct {
	Messages      []Message
	TokenEstimate int
}

// Topic is one ranked key term extracted from a document.
type Topic struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// SummaryResult holds the structured summary of a document. Computed once
// per document and cached; invalidated only when the document is replaced.
type SummaryResult struct {
	Overview string  `json:"overview"`
	Topics   []Topic `json:"topics"`
	Language string  `json:"language"`
}
