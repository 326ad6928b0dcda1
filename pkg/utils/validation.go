package utils

import (
	"errors"
	"fmt"
	"strings"

	apperrors "forumsearch/pkg/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct validates a struct based on its validation tags and
// returns a VALIDATION AppError listing every failed field
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError formats validation errors into readable messages
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		fields := make(map[string]interface{}, len(validationErrors))
		for _, e := range validationErrors {
			msg := formatFieldError(strings.ToLower(e.Field()), e)
			messages = append(messages, msg)
			fields[strings.ToLower(e.Field())] = msg
		}
		return apperrors.NewValidationError(strings.Join(messages, "; ")).WithDetails(fields)
	}
	return apperrors.NewValidationError(err.Error())
}

// formatFieldError formats a single field validation error
func formatFieldError(field string, e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url", "hostname_port":
		return fmt.Sprintf("%s must be a valid %s", field, e.Tag())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
