package recitation

import (
	"errors"

	"github.com/quranicquest/recitation/internal/audio"
	"github.com/quranicquest/recitation/internal/features"
	"github.com/quranicquest/recitation/internal/preprocess"
)

var (
	// ErrDecode: the upload could not be read as audio.
	ErrDecode = audio.ErrDecode
	// ErrStageFailure: a preprocessing stage failed and was skipped.
	ErrStageFailure = preprocess.ErrStageFailure
	// ErrConversion: a format conversion produced nothing.
	ErrConversion = audio.ErrConversion
	// ErrFeatureExtraction: no feature vector could be computed.
	ErrFeatureExtraction = features.ErrFeatureExtraction

	ErrSessionReleased = errors.New("recitation: session already released")
)
