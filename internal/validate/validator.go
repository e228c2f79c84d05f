package validate

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/rzpsarthak13/opqueue/internal/core"
)

var (
	// ErrValidation is wrapped by every error returned from Validate.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidOperationType is returned when the kind is nil or of an unknown type.
	ErrInvalidOperationType = errors.New("unsupported operation type")
)

const (
	// MaxKeyLength is the longest accepted key, in characters.
	MaxKeyLength = 256

	// MaxValueLength is the longest accepted Set value, in characters.
	MaxValueLength = 1024
)

type keyRequest struct {
	Key string `validate:"required,max=256"`
}

type setRequest struct {
	Key   string `validate:"required,max=256"`
	Value string `validate:"required,max=1024"`
}

// OperationValidator checks operations before they are admitted to the queue.
// It is safe for concurrent use.
type OperationValidator struct {
	v *validator.Validate
}

// New creates an OperationValidator.
func New() *OperationValidator {
	return &OperationValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

var defaultValidator = New()

// Validate checks kind with the package-level validator.
func Validate(kind core.OperationKind) error {
	return defaultValidator.Validate(kind)
}

// Validate returns nil when kind is well-formed, otherwise an error wrapping
// ErrValidation whose message names the first violated rule.
func (ov *OperationValidator) Validate(kind core.OperationKind) error {
	var req any
	switch k := kind.(type) {
	case core.SetOp:
		req = setRequest{Key: k.Key, Value: k.Value}
	case core.GetOp:
		req = keyRequest{Key: k.Key}
	case core.DeleteOp:
		req = keyRequest{Key: k.Key}
	case nil:
		return fmt.Errorf("%w: %w: operation kind is required", ErrValidation, ErrInvalidOperationType)
	default:
		return fmt.Errorf("%w: %w: %T", ErrValidation, ErrInvalidOperationType, kind)
	}

	err := ov.v.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return fmt.Errorf("%w: %s", ErrValidation, describe(firstViolation(fieldErrs)))
}

// firstViolation prefers emptiness over length, then key over value.
func firstViolation(errs validator.ValidationErrors) validator.FieldError {
	best := errs[0]
	for _, fe := range errs[1:] {
		if fe.Tag() == "required" && best.Tag() != "required" {
			best = fe
		}
	}
	return best
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s cannot be empty", fe.Field())
	case "max":
		return fmt.Sprintf("%s too long (max %s characters)", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
}
