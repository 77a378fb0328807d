package types

import "time"

type RecordingStatus string

const (
	RecordingPending    RecordingStatus = "pending"
	RecordingInProgress RecordingStatus = "in_progress"
	RecordingCompleted  RecordingStatus = "completed"
	RecordingFailed     RecordingStatus = "failed"
)

// Recording is one uploaded hearing audio file. TranscriptText and
// DiarizationText are derived from its chunks by the aggregator.
type Recording struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	AudioRef        string          `json:"audio_ref" gorm:"size:500;not null"`
	CaseName        string          `json:"case_name,omitempty" gorm:"size:255"`
	CaseNumber      string          `json:"case_number,omitempty" gorm:"size:100"`
	Language        string          `json:"language,omitempty" gorm:"size:16"`
	TranscriptText  string          `json:"transcription_text" gorm:"type:text"`
	DiarizationText string          `json:"diarization_text,omitempty" gorm:"type:text"`
	Status          RecordingStatus `json:"status" gorm:"size:20;not null;index"`
	Segmented       bool            `json:"is_chunked" gorm:"not null;default:false"`
	TotalChunks     int             `json:"total_chunks"`
	FailedChunks    int             `json:"failed_chunks"`
	FailureReason   string          `json:"failure_reason,omitempty" gorm:"type:text"`
	CreatedAt       time.Time       `json:"date_created"`
	UpdatedAt       time.Time       `json:"date_updated"`
}

func (Recording) TableName() string {
	return "recordings"
}

// Chunk is one fixed-length window of a recording and the unit of
// transcription and diarization work.
type Chunk struct {
	ID              string        `json:"id" gorm:"primaryKey;size:36"`
	RecordingID     string        `json:"transcription" gorm:"size:36;not null;uniqueIndex:idx_chunks_recording_index,priority:1"`
	ChunkIndex      int           `json:"chunk_index" gorm:"not null;uniqueIndex:idx_chunks_recording_index,priority:2"`
	AudioRef        string        `json:"chunk_file" gorm:"size:500"`
	Start           time.Duration `json:"start_ns"`
	Length          time.Duration `json:"length_ns"`
	TranscriptText  *string       `json:"transcription_text" gorm:"type:text"`
	DiarizationText *string       `json:"diarization_data" gorm:"type:text"`
	Status          ChunkStatus   `json:"status" gorm:"size:20;not null;index"`
	FailureStage    string        `json:"failure_stage,omitempty" gorm:"size:20"`
	FailureReason   string        `json:"failure_reason,omitempty" gorm:"type:text"`
	Attempts        int           `json:"attempts"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Chunk) TableName() string {
	return "audio_chunks"
}

// Transcript returns the chunk transcript or "" when not yet transcribed.
func (c Chunk) Transcript() string {
	if c.TranscriptText == nil {
		return ""
	}
	return *c.TranscriptText
}

// Diarization returns the formatted diarization or "".
func (c Chunk) Diarization() string {
	if c.DiarizationText == nil {
		return ""
	}
	return *c.DiarizationText
}

// Failure stages recorded on a failed chunk.
const (
	StageTranscription = "transcription"
	StageDiarization   = "diarization"
	StageInternal      = "internal"
	StageInterrupted   = "interrupted"
)
