package domain

import "time"

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// GenerationRequest describes one synthesis call. It is immutable once the
// orchestrator accepts it.
type GenerationRequest struct {
	ID         string
	Audio      []byte
	AvatarName string // optional override; empty selects the bundled asset
	CreatedAt  time.Time
}

// GenerationJob is the persisted ledger record for one request. The temp
// workspace path is deliberately not stored: it dies with the request.
type GenerationJob struct {
	ID          string     `gorm:"primaryKey;size:36"            json:"id"`
	Status      JobStatus  `gorm:"type:varchar(16);index;not null" json:"status"`
	AvatarName  string     `gorm:"size:255"                      json:"avatar,omitempty"`
	AudioFormat string     `gorm:"size:16"                       json:"audio_format,omitempty"`
	AudioBytes  int64      `json:"audio_bytes"`
	OutputBytes int64      `json:"output_bytes,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	FrameCount  int        `json:"frame_count,omitempty"`
	ErrorKind   string     `gorm:"size:32"  json:"error_kind,omitempty"`
	Error       *string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TableName keeps the ledger table name stable across gorm naming changes.
func (GenerationJob) TableName() string { return "jobs" }

// AvatarAsset is a canonical source video. It is read-only and shared by all
// jobs; cleanup logic never touches it.
type AvatarAsset struct {
	Name string
	Path string
}

// SynthesisResult hands the finished video to the HTTP layer. Release frees
// the backing workspace and must be called exactly once after the payload has
// been streamed or abandoned.
type SynthesisResult struct {
	JobID      string
	VideoPath  string
	SizeBytes  int64
	Duration   time.Duration
	Width      int
	Height     int
	FrameCount int
	Release    func()
}
