package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	apperrors "github.com/judgeflow/backend/internal/errors"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	// error.Field() returns "submission" instead of "Submission"
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

// translateValidationError turns a validator failure into a message fit for the client
func translateValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters long", e.Field(), e.Param())
		}
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "max":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters long", e.Field(), e.Param())
		}
		return fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid id", e.Field())
	default:
		return fmt.Sprintf("validation failed for %s with rule %s", e.Field(), e.Tag())
	}
}

func validateInput(validate *validator.Validate, inp any) error {
	err := validate.Struct(inp)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		return fmt.Errorf("%w, %s", apperrors.ErrInvalidRequest, translateValidationError(validationErrors[0]))
	}
	return fmt.Errorf("%w, %v", apperrors.ErrInvalidRequest, err)
}
