package httputil

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/track360/track360-backend/pkg/errors"
)

var (
	validate   = newValidator()
	objectIDRe = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
)

func newValidator() *validator.Validate {
	v := validator.New()

	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
		return IsObjectID(fl.Field().String())
	})

	return v
}

// IsObjectID reports whether s is a 24 character hex document id.
func IsObjectID(s string) bool {
	return objectIDRe.MatchString(s)
}

// Validate validates a struct using go-playground/validator
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return errors.Invalid(err.Error())
		}

		details := make(map[string]string)
		for _, e := range validationErrors {
			details[e.Field()] = formatValidationError(e)
		}

		return errors.Validation(details)
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "url":
		return "must be a valid URL"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "latitude":
		return "must be a latitude between -90 and 90"
	case "longitude":
		return "must be a longitude between -180 and 180"
	case "objectid":
		return "must be a 24 character hex id"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "invalid value"
	}
}
