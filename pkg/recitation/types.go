package recitation

import (
	"github.com/quranicquest/recitation/internal/features"
	"github.com/quranicquest/recitation/internal/lifecycle"
	"github.com/quranicquest/recitation/internal/preprocess"
	"github.com/quranicquest/recitation/internal/storage"
)

type (
	Ref           = storage.Ref
	FeatureVector = features.Vector
	StageResult   = preprocess.StageResult
	CleanupReport = lifecycle.CleanupReport
	CleanupEntry  = lifecycle.CleanupEntry
)

// RawUpload is a learner recording as received, stored under a unique
// name that keeps the declared extension.
type RawUpload struct {
	Ref       Ref    `json:"ref"`
	Extension string `json:"extension"`
	VerseID   string `json:"verse_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Size      int64  `json:"size"`
}

// ProcessedArtifact is the cleaned recording handed back to the caller,
// who owns it until it is cleaned up.
type ProcessedArtifact struct {
	Ref        Ref     `json:"ref"`
	SampleRate int     `json:"sample_rate"`
	Duration   float64 `json:"duration"`
	PeakDBFS   float64 `json:"peak_dbfs"`
	// Degenerate marks output with no samples or only digital silence.
	Degenerate bool `json:"degenerate"`
	// Fallback marks an artifact that is the raw upload itself because
	// the recording could not be decoded or the result not stored.
	Fallback bool          `json:"fallback"`
	Stages   []StageResult `json:"-"`
}
