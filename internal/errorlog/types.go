// Package errorlog classifies executor failures into structured records and
// keeps a bounded, pattern-aware log of them.
package errorlog

import (
	"time"
)

// Category groups failures by likely cause.
type Category string

const (
	CategoryNetwork         Category = "NetworkError"
	CategoryUnavailable     Category = "CanisterUnavailable"
	CategoryTimeout         Category = "TimeoutError"
	CategoryInvalidResponse Category = "InvalidResponse"
	CategoryValidation      Category = "ValidationError"
	CategoryUnknown         Category = "UnknownError"
)

// Categories lists every category in classification order.
var Categories = []Category{
	CategoryNetwork,
	CategoryTimeout,
	CategoryUnavailable,
	CategoryInvalidResponse,
	CategoryValidation,
	CategoryUnknown,
}

// Severity ranks how urgently a record needs attention.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank orders severities from 0 (Low) to 3 (Critical).
func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return 0
}

// Escalate returns the next severity level. Critical stays Critical.
func (s Severity) Escalate() Severity {
	r := s.Rank()
	if r+1 >= len(severityOrder) {
		return SeverityCritical
	}
	return severityOrder[r+1]
}

// AtLeast returns the higher of s and floor.
func (s Severity) AtLeast(floor Severity) Severity {
	if s.Rank() < floor.Rank() {
		return floor
	}
	return s
}

// Environment identifies the process that produced a record.
type Environment struct {
	Hostname  string `json:"hostname"`
	GoVersion string `json:"goVersion"`
	Version   string `json:"version"`
}

// Context is the operational context of a failure.
type Context struct {
	OperationID     string         `json:"operationId,omitempty"`
	OperationType   string         `json:"operationType"`
	Timestamp       time.Time      `json:"timestamp"`
	RetryCount      int            `json:"retryCount"`
	RetryDelay      *time.Duration `json:"retryDelay,omitempty"`
	NextRetryTime   *time.Time     `json:"nextRetryTime,omitempty"`
	MaxRetries      int            `json:"maxRetries"`
	FinalFailure    bool           `json:"finalFailure"`
	BatchProcessing bool           `json:"batchProcessing"`
	BatchSize       int            `json:"batchSize,omitempty"`
	Environment     Environment    `json:"environment"`
}

// Debug carries correlation identifiers.
type Debug struct {
	RequestID     string `json:"requestId"`
	CorrelationID string `json:"correlationId"`
	SessionID     string `json:"sessionId"`
}

// Record is a classified failure.
type Record struct {
	Category         Category `json:"category"`
	Severity         Severity `json:"severity"`
	Message          string   `json:"message"`
	Context          Context  `json:"context"`
	Recoverable      bool     `json:"recoverable"`
	SuggestedAction  string   `json:"suggestedAction"`
	TechnicalDetails string   `json:"technicalDetails"`
	Debug            Debug    `json:"debug"`
}

// Pattern is a recurring (category, message prefix) group.
type Pattern struct {
	Key       string    `json:"pattern"`
	Frequency int       `json:"frequency"`
	LastSeen  time.Time `json:"lastOccurrence"`
	Severity  Severity  `json:"severity"`
}

// Statistics summarizes the log.
type Statistics struct {
	TotalErrors       int              `json:"totalErrors"`
	ErrorsByCategory  map[Category]int `json:"errorsByCategory"`
	ErrorsBySeverity  map[Severity]int `json:"errorsBySeverity"`
	RecentErrors      []Record         `json:"recentErrors"`
	ErrorPatterns     []Pattern        `json:"errorPatterns"`
	SystemHealthScore int              `json:"systemHealthScore"`
}

// Trend is the error count of one category within a time window.
type Trend struct {
	TimeWindow string   `json:"timeWindow"`
	ErrorCount int      `json:"errorCount"`
	Category   Category `json:"category"`
}

// MessageCount is a frequently logged message prefix.
type MessageCount struct {
	Message  string    `json:"message"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

// Analysis is the detailed error report.
type Analysis struct {
	CriticalErrorsLast24h int            `json:"criticalErrorsLast24h"`
	ErrorTrends           []Trend        `json:"errorTrends"`
	TopErrorMessages      []MessageCount `json:"topErrorMessages"`
	RecoverySuccessRate   float64        `json:"recoverySuccessRate"`
}
