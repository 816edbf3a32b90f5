// Package domain contains core business types and interfaces.
//
// This file defines usage accounting types: the append-only UsageRecord
// analytics fact, billable overage, aggregated usage stats, and the
// deterministic duration estimator used for upload admission.
package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// UsageRecordType identifies the operation a usage record accounts for.
type UsageRecordType string

const (
	UsageRecordTranscription UsageRecordType = "transcription"
	UsageRecordAnalysis      UsageRecordType = "analysis"
)

// UsageRecord is an append-only analytics fact. Records are never mutated;
// they are deleted only by the retention sweep or a hard account deletion.
type UsageRecord struct {
	ID                uuid.UUID
	UserID            string
	SourceOperationID string
	DurationHours     float64
	Type              UsageRecordType
	Tier              Tier
	CreatedAt         time.Time
}

// Overage is billable usage beyond a tier's soft monthly cap.
type Overage struct {
	Hours       float64
	AmountCents int64
}

// UsageStats aggregates everything a caller needs to render a usage view:
// current counters, the tier's limits, billable overage, and any warnings.
type UsageStats struct {
	Tier             Tier
	Usage            Usage
	Limits           TierLimits
	Overage          Overage
	PercentHoursUsed float64 // 0 when the tier has no hours cap
	Warnings         []string
}

// Duration estimation constants.
const (
	// MaxEstimatedMinutes caps the estimate for pathological inputs.
	MaxEstimatedMinutes = 480

	// DefaultCompressionRateMBPerMinute is used for unknown mime types.
	DefaultCompressionRateMBPerMinute = 1.0
)

// compressionRates maps audio mime types to approximate MB per minute.
// Rates are deliberately conservative so estimates err on the long side.
var compressionRates = map[string]float64{
	"audio/mpeg":  1.0,
	"audio/mp3":   1.0,
	"audio/mp4":   1.0,
	"audio/m4a":   1.0,
	"audio/aac":   1.0,
	"audio/ogg":   1.0,
	"audio/webm":  1.0,
	"audio/wav":   10.0,
	"audio/x-wav": 10.0,
	"audio/flac":  5.0,
	"video/mp4":   8.0,
	"video/webm":  8.0,
}

// EstimateDurationMinutes estimates audio duration from file size and mime
// type: ceil(sizeMB / rate), capped at MaxEstimatedMinutes. The estimate is
// deterministic so quota decisions are reproducible in tests.
func EstimateDurationMinutes(sizeBytes int64, mimeType string) int {
	if sizeBytes <= 0 {
		return 0
	}
	rate, ok := compressionRates[mimeType]
	if !ok {
		rate = DefaultCompressionRateMBPerMinute
	}
	sizeMB := float64(sizeBytes) / (1 << 20)
	minutes := int(math.Ceil(sizeMB / rate))
	if minutes > MaxEstimatedMinutes {
		return MaxEstimatedMinutes
	}
	return minutes
}
