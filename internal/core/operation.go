package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxRetryAttempts bounds Operation.RetryCount.
const MaxRetryAttempts = 3

// OperationType names the variant of an OperationKind.
type OperationType string

const (
	// OperationSet writes a value under a key.
	OperationSet OperationType = "Set"

	// OperationGet reads the value stored under a key.
	OperationGet OperationType = "Get"

	// OperationDelete removes a key.
	OperationDelete OperationType = "Delete"
)

// OperationKind is the payload of a queued operation.
// It is implemented only by SetOp, GetOp and DeleteOp.
type OperationKind interface {
	Type() OperationType
	TargetKey() string
	isOperationKind()
}

// SetOp stores Value under Key.
type SetOp struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetOp reads Key.
type GetOp struct {
	Key string `json:"key"`
}

// DeleteOp removes Key.
type DeleteOp struct {
	Key string `json:"key"`
}

func (SetOp) Type() OperationType    { return OperationSet }
func (GetOp) Type() OperationType    { return OperationGet }
func (DeleteOp) Type() OperationType { return OperationDelete }

func (o SetOp) TargetKey() string    { return o.Key }
func (o GetOp) TargetKey() string    { return o.Key }
func (o DeleteOp) TargetKey() string { return o.Key }

func (SetOp) isOperationKind()    {}
func (GetOp) isOperationKind()    {}
func (DeleteOp) isOperationKind() {}

// Status is a position in the operation lifecycle.
type Status string

const (
	StatusQueued     Status = "Queued"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusRetrying   Status = "Retrying"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OperationResult is the executor's answer for a successful operation.
// It is implemented only by SetResult, GetResult and DeleteResult.
type OperationResult interface {
	ResultType() OperationType
}

// SetResult reports whether the value was stored.
type SetResult struct {
	Ok bool `json:"ok"`
}

// GetResult carries the value read; Value is nil when the key is absent.
type GetResult struct {
	Value *string `json:"value"`
}

// DeleteResult reports whether the key was removed.
type DeleteResult struct {
	Ok bool `json:"ok"`
}

func (SetResult) ResultType() OperationType    { return OperationSet }
func (GetResult) ResultType() OperationType    { return OperationGet }
func (DeleteResult) ResultType() OperationType { return OperationDelete }

// Operation is the status record the store keeps for each submitted operation.
type Operation struct {
	ID                  string
	Kind                OperationKind
	Status              Status
	Position            uint64
	QueuedAt            time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	Result              OperationResult
	ErrorMessage        string
	RetryCount          int

	// NotBefore is the earliest time a Retrying operation may be picked up again.
	NotBefore time.Time
	// RetryReady is set once the retry scheduler has released a Retrying
	// operation. Only released operations are eligible.
	RetryReady bool
}

// Executor performs an operation against the cache layer.
// A non-nil error means the attempt failed and may be retried.
type Executor interface {
	Execute(ctx context.Context, kind OperationKind) (OperationResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, kind OperationKind) (OperationResult, error)

// Execute calls f(ctx, kind).
func (f ExecutorFunc) Execute(ctx context.Context, kind OperationKind) (OperationResult, error) {
	return f(ctx, kind)
}

// KindRecord is the flat, serializable form of an OperationKind.
type KindRecord struct {
	Type  OperationType `json:"type"`
	Key   string        `json:"key"`
	Value string        `json:"value,omitempty"`
}

// RecordOf flattens kind. A nil kind yields the zero KindRecord.
func RecordOf(kind OperationKind) KindRecord {
	switch k := kind.(type) {
	case SetOp:
		return KindRecord{Type: OperationSet, Key: k.Key, Value: k.Value}
	case GetOp:
		return KindRecord{Type: OperationGet, Key: k.Key}
	case DeleteOp:
		return KindRecord{Type: OperationDelete, Key: k.Key}
	default:
		return KindRecord{}
	}
}

// Kind rebuilds the OperationKind. Type matching is case-insensitive.
func (r KindRecord) Kind() (OperationKind, error) {
	t := string(r.Type)
	switch {
	case strings.EqualFold(t, string(OperationSet)):
		return SetOp{Key: r.Key, Value: r.Value}, nil
	case strings.EqualFold(t, string(OperationGet)):
		return GetOp{Key: r.Key}, nil
	case strings.EqualFold(t, string(OperationDelete)):
		return DeleteOp{Key: r.Key}, nil
	default:
		return nil, fmt.Errorf("unknown operation type %q", r.Type)
	}
}

// PanicError wraps a value recovered from a panicking Executor.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("executor panic: %v", e.Value)
}

type operationJSON struct {
	ID                  string          `json:"id"`
	Kind                KindRecord      `json:"kind"`
	Status              Status          `json:"status"`
	Position            uint64          `json:"position"`
	QueuedAt            time.Time       `json:"queuedAt"`
	ProcessingStartedAt *time.Time      `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
	ResultType          OperationType   `json:"resultType,omitempty"`
	Result              OperationResult `json:"result,omitempty"`
	ErrorMessage        string          `json:"errorMessage,omitempty"`
	RetryCount          int             `json:"retryCount"`
}

// MarshalJSON flattens the kind and tags the result with its type.
func (o Operation) MarshalJSON() ([]byte, error) {
	v := operationJSON{
		ID:                  o.ID,
		Kind:                RecordOf(o.Kind),
		Status:              o.Status,
		Position:            o.Position,
		QueuedAt:            o.QueuedAt,
		ProcessingStartedAt: o.ProcessingStartedAt,
		CompletedAt:         o.CompletedAt,
		Result:              o.Result,
		ErrorMessage:        o.ErrorMessage,
		RetryCount:          o.RetryCount,
	}
	if o.Result != nil {
		v.ResultType = o.Result.ResultType()
	}
	return json.Marshal(v)
}
