package types

import "time"

// Conversion job status values
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// ConversionRequest describes what to synthesize
type ConversionRequest struct {
	DocumentID   string   `json:"document_id" validate:"required"`
	Provider     string   `json:"provider" validate:"required"`
	VoiceID      string   `json:"voice_id"`
	Language     string   `json:"language" validate:"omitempty,min=2,max=16"`
	SpeakingRate float64  `json:"speaking_rate" validate:"omitempty,gte=0.25,lte=4"`
	ChapterIDs   []string `json:"chapter_ids,omitempty"`
}

// ConversionRecord is a row of conversion history
type ConversionRecord struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"document_id"`
	Title       string     `json:"title"`
	Format      string     `json:"format"`
	Provider    string     `json:"provider"`
	VoiceID     string     `json:"voice_id"`
	Status      string     `json:"status"`
	TotalChunks int        `json:"total_chunks"`
	DoneChunks  int        `json:"done_chunks"`
	TotalChars  int        `json:"total_chars"`
	CacheKey    string     `json:"cache_key,omitempty"`
	OutputKey   string     `json:"output_key,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
}

// ConversionManifest is written next to a job's audio once its chunks are
// known. Streaming and packaging read it instead of the live job.
type ConversionManifest struct {
	JobID      string            `json:"job_id"`
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	Author     string            `json:"author,omitempty"`
	Language   string            `json:"language,omitempty"`
	Provider   string            `json:"provider"`
	VoiceID    string            `json:"voice_id"`
	TotalChars int               `json:"total_chars"`
	CreatedAt  time.Time         `json:"created_at"`
	Chapters   []ManifestChapter `json:"chapters"`
	Chunks     []Chunk           `json:"chunks"`
}

// ManifestChapter is one converted chapter and where its audio lives.
type ManifestChapter struct {
	ID            string  `json:"id"`
	Number        int     `json:"number"`
	Title         string  `json:"title"`
	Confidence    float64 `json:"confidence"`
	DetectionType string  `json:"detection_type"`
	CharCount     int     `json:"char_count"`
	FirstChunk    int     `json:"first_chunk"`
	ChunkCount    int     `json:"chunk_count"`
	AudioKey      string  `json:"audio_key,omitempty"`
}
