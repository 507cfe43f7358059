package parser

import (
	"fmt"
	"time"
)

// Metadata contains context about the file being normalized.
//
// Create instances using NewMetadata(filePath, detectedAt). This constructor validates
// required fields (filePath and detectedAt) to ensure metadata is always in a valid state.
type Metadata struct {
	filePath   string
	detectedAt time.Time
}

// NewMetadata creates a new Metadata instance with validated required fields.
// Returns an error if filePath is empty or detectedAt is zero.
func NewMetadata(filePath string, detectedAt time.Time) (*Metadata, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if detectedAt.IsZero() {
		return nil, fmt.Errorf("detected time cannot be zero")
	}
	return &Metadata{
		filePath:   filePath,
		detectedAt: detectedAt,
	}, nil
}

// FilePath returns the file path as given on the command line
func (m *Metadata) FilePath() string {
	return m.filePath
}

// DetectedAt returns the timestamp when the file was detected
func (m *Metadata) DetectedAt() time.Time {
	return m.detectedAt
}
