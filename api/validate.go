package api

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	packetNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)
	commitSHAPattern  = regexp.MustCompile(`^[a-f0-9]{7,40}$`)
)

// validate is the shared validator instance. Field names in reported
// details use the json tag so errors point at what the caller actually
// sent.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "packet_name", func(fl validator.FieldLevel) bool {
		return packetNamePattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "commit_sha", func(fl validator.FieldLevel) bool {
		return commitSHAPattern.MatchString(fl.Field().String())
	})

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validator: %v", tag, err))
	}
}

// Validate checks a request struct against its validation tags and returns
// per-field failure reasons keyed by json field name. A nil map means the
// request is valid.
func Validate(req any) map[string]string {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: the caller passed something that is not
		// a struct. Surface it as a single synthetic field.
		return map[string]string{"request": err.Error()}
	}

	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = reason(fe)
	}
	return details
}

// reason renders one field error in the caller's vocabulary.
func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "ltefield":
		return "must not exceed tasks_total"
	case "packet_name":
		return "must contain only lowercase letters, digits, and hyphens"
	case "commit_sha":
		return "must be 7-40 lowercase hex characters"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
