package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"mailsmith/internal/types"
)

// Validator wraps go-playground/validator for request DTO validation. It
// reports field names by their JSON tags so error details match the wire
// contract, and translates failures into the standard AppError shape.
type Validator struct {
	validate *validator.Validate
	logger   types.Logger
}

// ValidationError describes a single failed constraint on a request field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidator creates a new Validator. The constructor is the single
// registration point for tag-name resolution and any custom rules.
func NewValidator(logger types.Logger) *Validator {
	v := validator.New()

	// Report fields by their JSON names, not Go identifiers.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates s against its `validate` struct tags. On failure
// it returns a *types.AppError whose code reflects the first failed rule and
// whose Details carry every failure under "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalidErr *validator.InvalidValidationError
	if errors.As(err, &invalidErr) {
		// Non-struct input is a programming error, not a client error.
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"validation target must be a struct",
			err,
		)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"request validation failed",
			err,
		)
	}

	details := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, ValidationError{
			Field:   fe.Field(),
			Code:    tagToErrorCode(fe.Tag()),
			Message: validationMessage(fe),
		})
	}

	first := fieldErrs[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(tagToErrorCode(first.Tag())),
		fmt.Sprintf("field %q %s", first.Field(), validationMessage(first)),
		err,
		map[string]any{"validation_errors": details},
	)
}

// tagToErrorCode maps a validator tag to the application error code it
// represents. Presence rules map to the missing-field code; everything else
// is an invalid field value.
func tagToErrorCode(tag string) string {
	switch tag {
	case "required", "required_with", "required_without":
		return string(types.ErrCodeValidationMissingField)
	default:
		return string(types.ErrCodeValidationInvalidField)
	}
}

// validationMessage renders a short human-readable description of a failed
// constraint, suitable for inclusion in API error details.
func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url", "http_url", "uri":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	default:
		return "failed rule: " + fe.Tag()
	}
}
