package utils

import (
	"context"
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	validate  = newValidator()
	clockTime = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockTime.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks request struct tags and reports the first failing field.
func Validate(ctx context.Context, req interface{}) error {
	err := validate.StructCtx(ctx, req)
	if err == nil {
		return nil
	}
	var vErrors validator.ValidationErrors
	if !errors.As(err, &vErrors) || len(vErrors) == 0 {
		return err
	}
	ve := vErrors[0]
	var msg string
	switch ve.Tag() {
	case "required":
		msg = "field is required"
	case "gt", "gte", "min":
		msg = "field is below minimum value"
	case "lt", "lte", "max":
		msg = "field exceeds maximum value"
	case "clock":
		msg = "time must be HH:MM"
	case "oneof":
		msg = "field must be one of " + ve.Param()
	default:
		msg = "invalid field"
	}
	return errors.New(msg + ": " + ve.Field())
}
