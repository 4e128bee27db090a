package types

import "time"

// Document status values
const (
	DocumentUploaded   = "uploaded"
	DocumentExtracting = "extracting"
	DocumentReady      = "ready"
	DocumentError      = "error"
)

// Block kinds produced by the parsers
const (
	BlockHeading   = "heading"
	BlockParagraph = "paragraph"
)

// Document represents an uploaded document and its extracted text
type Document struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	Language      string     `json:"language"` // ISO-639-1 code
	Format        string     `json:"format"`   // "pdf", "epub", "txt"
	UploadedAt    time.Time  `json:"uploaded_at"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	PageCount     int        `json:"page_count,omitempty"`
	TotalChapters int        `json:"total_chapters"`
	TotalChars    int        `json:"total_chars"`
	SHA256        string     `json:"sha256,omitempty"`
	TOC           []TOCEntry `json:"toc,omitempty"`
	Blocks        []Block    `json:"-"` // persisted separately from metadata
}

// Block is a unit of extracted text with the layout hints the chapter
// detector scores
type Block struct {
	Text     string  `json:"text"`
	Kind     string  `json:"kind"`                // "heading" or "paragraph"
	Level    int     `json:"level,omitempty"`     // 1..6 for markup headings
	FontSize float64 `json:"font_size,omitempty"` // points or relative em, 0 if unknown
	Bold     bool    `json:"bold,omitempty"`
	Page     int     `json:"page,omitempty"`
	Source   string  `json:"source,omitempty"`    // spine href for EPUB
	TOCTitle string  `json:"toc_title,omitempty"` // set when a TOC entry points at this block
}

// TOCEntry is an entry from the document's own table of contents
type TOCEntry struct {
	Title string `json:"title"`
	Href  string `json:"href"`
	Level int    `json:"level"`
}

// Chapter detection types
const (
	DetectionTOC         = "toc"
	DetectionHeading     = "heading"
	DetectionPattern     = "pattern"
	DetectionFontSize    = "font-size"
	DetectionLayout      = "layout"
	DetectionFrontMatter = "front-matter"
	DetectionFallback    = "fallback"
)

// Chapter represents a detected chapter in a document
type Chapter struct {
	ID            string   `json:"id"`
	DocumentID    string   `json:"document_id"`
	Number        int      `json:"number"`
	Title         string   `json:"title"`
	TOCPath       []string `json:"toc_path"` // Hierarchical breadcrumbs
	Paragraphs    []string `json:"paragraphs"`
	Confidence    float64  `json:"confidence"`
	DetectionType string   `json:"detection_type"`
	CharCount     int      `json:"char_count"`
	StartBlock    int      `json:"start_block"`
}

// Chunk is a TTS-sized piece of chapter text
type Chunk struct {
	Index        int    `json:"index"`
	ChapterIndex int    `json:"chapter_index"`
	ChapterID    string `json:"chapter_id"`
	Text         string `json:"text"`
	CharCount    int    `json:"char_count"`
	StartOffset  int    `json:"start_offset"`
}

// Voice represents a TTS voice with metadata
type Voice struct {
	ID          string   `json:"id"`          // Provider-specific voice ID
	Name        string   `json:"name"`        // Human-readable name
	Languages   []string `json:"languages"`   // Supported language codes
	Gender      string   `json:"gender"`      // "male", "female", "neutral", or empty
	Description string   `json:"description"` // Additional description
}
