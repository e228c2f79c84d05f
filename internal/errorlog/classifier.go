package errorlog

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/opqueue/internal/core"
)

type rule struct {
	category Category
	keywords []string
}

// First match wins.
var rules = []rule{
	{CategoryNetwork, []string{"network", "connection", "refused", "reset by peer", "broken pipe"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline"}},
	{CategoryUnavailable, []string{"unavailable", "stopped", "store is closed"}},
	{CategoryInvalidResponse, []string{"invalid", "malformed", "parse", "unmarshal"}},
	{CategoryValidation, []string{"validation", "empty", "too long"}},
}

const permanentFailureAction = "Operation has permanently failed. Manual intervention required. Contact support with correlation ID."

// Classifier turns raw errors into Records.
type Classifier struct {
	env          Environment
	sessionID    string
	newRequestID func() string
}

// NewClassifier creates a Classifier that stamps records with sessionID and
// the running binary's version.
func NewClassifier(sessionID, version string) *Classifier {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Classifier{
		env:          Environment{Hostname: host, GoVersion: runtime.Version(), Version: version},
		sessionID:    sessionID,
		newRequestID: uuid.NewString,
	}
}

// Categorize returns the first category whose keywords appear in msg.
func Categorize(msg string) Category {
	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.category
			}
		}
	}
	return CategoryUnknown
}

// Classify builds the record for err raised while running an operation of
// type opType that had been retried retryCount times.
func (c *Classifier) Classify(err error, opType core.OperationType, retryCount int, opID string, now time.Time) Record {
	raw := "unknown error"
	if err != nil {
		raw = err.Error()
	}
	lower := strings.ToLower(raw)
	category := Categorize(raw)
	var panicErr *core.PanicError
	if errors.As(err, &panicErr) {
		category = CategoryUnknown
	}

	rec := Record{
		Category: category,
		Context: Context{
			OperationID:   opID,
			OperationType: string(opType),
			Timestamp:     now,
			RetryCount:    retryCount,
			MaxRetries:    core.MaxRetryAttempts,
			Environment:   c.env,
		},
		Debug: c.debug(opID),
	}

	switch category {
	case CategoryNetwork:
		permanent := strings.Contains(lower, "permanent")
		rec.Severity = SeverityMedium
		if permanent || strings.Contains(lower, "critical") {
			rec.Severity = SeverityHigh
		}
		rec.Recoverable = !permanent
		rec.Message = fmt.Sprintf("Network communication failed during %s: %s", opType, raw)
		rec.SuggestedAction = "Check network connectivity and retry operation"
		if retryCount > 2 {
			rec.SuggestedAction = "Check network connectivity, verify cache node availability, or contact system administrator"
		}
		rec.TechnicalDetails = fmt.Sprintf("Network error occurred during %s operation. Retry attempt: %d. Error details: %s.", opType, retryCount, raw)

	case CategoryTimeout:
		rec.Severity = SeverityMedium
		rec.Recoverable = true
		rec.Message = fmt.Sprintf("Operation timed out during %s: %s", opType, raw)
		rec.SuggestedAction = "Retry operation with longer timeout or reduce batch size"
		rec.TechnicalDetails = fmt.Sprintf("Timeout occurred during %s. Retry count: %d. Consider adjusting timeout settings or reducing operation complexity. Error: %s.", opType, retryCount, raw)

	case CategoryUnavailable:
		rec.Severity = SeverityHigh
		rec.Recoverable = true
		rec.Message = fmt.Sprintf("Cache node is currently unavailable during %s: %s", opType, raw)
		rec.SuggestedAction = "Wait for the cache node to become available and retry operation"
		if retryCount > 1 {
			rec.SuggestedAction = "Cache node may be undergoing maintenance. Wait 5-10 minutes or contact system administrator"
		}
		rec.TechnicalDetails = fmt.Sprintf("Cache node unavailable during %s. This may be due to an upgrade, maintenance, or resource exhaustion. Version: %s. Error: %s.", opType, c.env.Version, raw)

	case CategoryInvalidResponse:
		rec.Severity = SeverityHigh
		rec.Recoverable = false
		rec.Message = fmt.Sprintf("Invalid response received during %s: %s", opType, raw)
		rec.SuggestedAction = "Check operation parameters and cache node compatibility. This may indicate a protocol version mismatch"
		rec.TechnicalDetails = fmt.Sprintf("Invalid response format received from the cache node during %s. This may indicate a protocol mismatch, version incompatibility, or data corruption. Client version: %s. Error: %s.", opType, c.env.Version, raw)

	case CategoryValidation:
		rec.Severity = SeverityLow
		rec.Recoverable = false
		rec.Message = fmt.Sprintf("Parameter validation failed during %s: %s", opType, raw)
		rec.SuggestedAction = "Check operation parameters and fix validation issues. Ensure all required fields are provided and within acceptable limits"
		rec.TechnicalDetails = fmt.Sprintf("Parameter validation failed for %s. Keys must be 1-256 characters, values must be 1-1024 characters. Error: %s.", opType, raw)

	default:
		rec.Severity = SeverityMedium
		rec.Recoverable = true
		rec.Message = fmt.Sprintf("Unexpected error occurred during %s: %s", opType, raw)
		rec.SuggestedAction = "Retry operation or contact support if problem persists"
		if retryCount > 2 {
			rec.SuggestedAction = "Multiple retry attempts failed. Contact support with error details and correlation ID"
		}
		rec.TechnicalDetails = fmt.Sprintf("Unknown error during %s. Retry count: %d. Go: %s. Error: %s. Please report this error with the correlation ID.", opType, retryCount, c.env.GoVersion, raw)
	}

	if retryCount > 2 {
		rec.Severity = rec.Severity.Escalate()
	}
	if category == CategoryInvalidResponse {
		rec.Severity = rec.Severity.AtLeast(SeverityHigh)
	}
	return rec
}

// PermanentFailure builds the Critical record logged when an operation
// exhausts its retries.
func (c *Classifier) PermanentFailure(cause error, opType core.OperationType, opID string, now time.Time) Record {
	err := fmt.Errorf("operation permanently failed after %d attempts: %w", core.MaxRetryAttempts, cause)
	rec := c.Classify(err, opType, core.MaxRetryAttempts, opID, now)
	rec.Severity = SeverityCritical
	rec.Recoverable = false
	rec.Context.FinalFailure = true
	rec.SuggestedAction = permanentFailureAction
	rec.TechnicalDetails += " All retry attempts exhausted. This indicates a persistent system issue that requires investigation."
	return rec
}

func (c *Classifier) debug(opID string) Debug {
	reqID := c.newRequestID()
	corr := opID
	if corr == "" {
		corr = reqID
	}
	return Debug{RequestID: reqID, CorrelationID: "corr_" + corr, SessionID: c.sessionID}
}
