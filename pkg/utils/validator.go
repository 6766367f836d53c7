package utils

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// StructValidator wraps a go-playground validator configured for this service.
type StructValidator struct {
	validate *validator.Validate
}

// NewStructValidator creates a validator with the custom "oid" tag registered.
func NewStructValidator() *StructValidator {
	v := validator.New()
	_ = v.RegisterValidation("oid", func(fl validator.FieldLevel) bool {
		return IsDottedOID(fl.Field().String())
	})
	return &StructValidator{validate: v}
}

// ValidateStruct validates a struct and returns one error listing every failing field.
func (sv *StructValidator) ValidateStruct(s interface{}) error {
	err := sv.validate.Struct(s)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	details := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		details = append(details, fmt.Sprintf("%s %s", toSnakeCase(fe.Field()), formatValidationError(fe)))
	}
	sort.Strings(details)
	return fmt.Errorf("invalid configuration: %s", strings.Join(details, "; "))
}

var dottedOIDPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.(0|[1-9][0-9]*))+$`)

// IsDottedOID reports whether s is a dotted-decimal object identifier with at least two arcs.
func IsDottedOID(s string) bool {
	return dottedOIDPattern.MatchString(s)
}

// formatValidationError creates a readable message for a validation error.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "oid":
		return "must be a dotted OID"
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// toSnakeCase converts a string from CamelCase to snake_case.
func toSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}
