package model

import (
	"fmt"
	"time"
)

// Stage identifies one step of the processing pipeline. Stages advance
// linearly; StageFailed is terminal and reachable from any stage.
type Stage int

const (
	StageUpload Stage = iota
	StageVirusScan
	StageClassification
	StageEncryption
	StageOCR
	StagePreview
	StageIndexing
	StageComplete
	StageFailed
)

var stageNames = map[Stage]string{
	StageUpload:         "upload",
	StageVirusScan:      "virus_scan",
	StageClassification: "classification",
	StageEncryption:     "encryption",
	StageOCR:            "ocr",
	StagePreview:        "preview",
	StageIndexing:       "indexing",
	StageComplete:       "complete",
	StageFailed:         "failed",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage converts a stored string form back to a Stage.
func ParseStage(v string) (Stage, error) {
	for s, name := range stageNames {
		if name == v {
			return s, nil
		}
	}
	return StageFailed, fmt.Errorf("unknown stage: %q", v)
}

// JobStatus is the coarse lifecycle state of a processing job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ProcessingJob tracks a single document through the pipeline. Jobs are
// created at upload, mutated only by the pipeline orchestrator, and retained
// permanently for audit once terminal.
type ProcessingJob struct {
	ID         string
	DocumentID string
	Stage      Stage
	Status     JobStatus

	// Progress is a 0-100 percentage, monotonic within a job. Observability
	// only; never used for control flow.
	Progress int

	RetryCount int
	MaxRetries int

	Metadata  StageMetadata
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the job has reached a final state.
func (j *ProcessingJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// StageMetadata holds the per-stage outputs of a job. Each stage populates
// exactly one field; a field is nil until its stage has run. Keeping the
// variants typed (rather than one open-ended map) makes states like
// "encryption metadata present before the encryption stage" unrepresentable
// in practice and catches schema drift at compile time.
type StageMetadata struct {
	Scan       *ScanResult       `json:"scan,omitempty"`
	DLP        *DLPResult        `json:"dlp,omitempty"`
	Encryption *EncryptionResult `json:"encryption,omitempty"`
	OCR        *OCRResult        `json:"ocr,omitempty"`
	Preview    *PreviewResult    `json:"preview,omitempty"`
	Index      *IndexResult      `json:"index,omitempty"`
}

// ScanResult is the virus-scan stage output.
type ScanResult struct {
	Infected      bool      `json:"infected"`
	SignatureName string    `json:"signature_name,omitempty"`
	ScannedAt     time.Time `json:"scanned_at"`
}

// EncryptionResult is the encryption stage output. It carries the key
// reference only; raw key material never appears in job metadata.
type EncryptionResult struct {
	KeyRef      string    `json:"key_ref"`
	StorageKey  string    `json:"storage_key"`
	Checksum    string    `json:"checksum"`
	EncryptedAt time.Time `json:"encrypted_at"`
}

// OCRResult is the recognition stage output. Degraded is set when OCR failed
// but the pipeline continued.
type OCRResult struct {
	Text     string    `json:"text,omitempty"`
	Words    []OCRWord `json:"words,omitempty"`
	Skipped  bool      `json:"skipped,omitempty"`
	Degraded bool      `json:"degraded,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// OCRWord is one recognized word with its confidence and bounding box.
type OCRWord struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// PreviewResult is the preview stage output.
type PreviewResult struct {
	PreviewKey   string `json:"preview_key,omitempty"`
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
	Error        string `json:"error,omitempty"`
}

// IndexResult is the indexing stage output. Pending means the entry was
// handed to the independent retry queue after a direct submit failed.
type IndexResult struct {
	Indexed bool   `json:"indexed"`
	Pending bool   `json:"pending,omitempty"`
	Error   string `json:"error,omitempty"`
}
