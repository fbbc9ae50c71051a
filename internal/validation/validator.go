// Package validation provides conversion request validation utilities using the validator/v10 library.
package validation

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/listenupapp/aaxconv/internal/drm"
	domainerrors "github.com/listenupapp/aaxconv/internal/errors"
)

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v *validator.Validate
}

// New creates a validator configured for our domain.
func New() *Validator {
	v := validator.New()

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("json")
		if name == "" {
			return fld.Name
		}
		// Remove options like omitempty, -
		for i := range len(name) {
			if name[i] == ',' {
				return name[:i]
			}
		}
		return name
	})

	// activation: 8 hex digits, empty allowed (the config may supply one).
	_ = v.RegisterValidation("activation", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || drm.IsValidText(s)
	})

	return &Validator{v: v}
}

// Validate validates a struct and returns a domain error.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// formatError converts validator errors to domain errors.
func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// The first field error carries enough context for a CLI message.
	e := validationErrs[0]
	if e.Tag() == "activation" {
		// Malformed activation codes have their own spot in the taxonomy.
		return domainerrors.InvalidActivation("activation code must be exactly 8 hex digits")
	}
	return domainerrors.Validationf("%s %s", e.Field(), v.friendlyMessage(e))
}

func (v *Validator) friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "activation":
		return "must be exactly 8 hex digits"
	default:
		return fmt.Sprintf("failed validation: %s", e.Tag())
	}
}
