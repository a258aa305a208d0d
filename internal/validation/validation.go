// Package validation provides a shared validator instance.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var instance = validator.New()

// identifierRegex bounds organization and chain identifiers so they stay
// unambiguous inside composite storage keys.
var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func init() {
	// Cannot error: tag is non-empty and function is non-nil.
	_ = instance.RegisterValidation("audit_identifier", validIdentifier)
}

// customHints maps validator tags to a hint appended to the default error.
var customHints = map[string]func(fe validator.FieldError) string{
	"audit_identifier": func(fe validator.FieldError) string {
		return fmt.Sprintf("%q must be 1-128 characters of A-Z, a-z, 0-9, '.', '_' or '-'", fe.Value())
	},
}

// Struct validates a struct using the shared instance and returns a
// single formatted error for invalid input.
func Struct(v any) error {
	err := instance.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	return errors.New(formatErrors(validationErrors))
}

// formatErrors builds the error string, appending a custom hint for known
// tags while keeping the standard validator prefix.
func formatErrors(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msg := fe.Error()
		if fn, ok := customHints[fe.Tag()]; ok {
			msg = fmt.Sprintf("%s: %s", msg, fn(fe))
		}
		msgs = append(msgs, msg)
	}

	return strings.Join(msgs, "; ")
}

// validIdentifier checks organization and chain key format.
func validIdentifier(fl validator.FieldLevel) bool {
	return identifierRegex.MatchString(fl.Field().String())
}

// ValidIdentifier reports whether a string is usable as an organization
// or chain identifier.
func ValidIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

// Instance returns the shared validator for registering custom validators.
func Instance() *validator.Validate {
	return instance
}
