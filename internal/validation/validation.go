// Package validation checks parent-submitted input before anything is written.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"eleve/internal/errs"
	"eleve/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names instead of Go field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidateChild checks one ChildSpec: name present, age 1-18, known skill level.
// Returns a *errs.ValidationError listing every invalid field.
func ValidateChild(child models.ChildSpec) error {
	child.Name = strings.TrimSpace(child.Name)
	child.SkillLevel = models.SkillLevel(strings.TrimSpace(string(child.SkillLevel)))

	err := validatorInstance().Struct(child)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate child: %w", err)
	}

	fields := make([]errs.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, errs.FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return errs.NewValidationError(fields...)
}

// ValidateChildren checks a whole submission. An empty submission is invalid.
func ValidateChildren(children []models.ChildSpec) error {
	if len(children) == 0 {
		return errs.NewValidationError(errs.FieldError{Field: "children", Message: "at least one child is required"})
	}

	var fields []errs.FieldError
	for i, child := range children {
		err := ValidateChild(child)
		if err == nil {
			continue
		}
		var verr *errs.ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		for _, f := range verr.Fields {
			fields = append(fields, errs.FieldError{
				Field:   fmt.Sprintf("children[%d].%s", i, f.Field),
				Message: f.Message,
			})
		}
	}
	if len(fields) > 0 {
		return errs.NewValidationError(fields...)
	}
	return nil
}

// ValidateEmail checks if an email address is valid
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errs.NewValidationError(errs.FieldError{Field: "email", Message: "email is required"})
	}
	if err := validatorInstance().Var(email, "email"); err != nil {
		return errs.NewValidationError(errs.FieldError{Field: "email", Message: "invalid email format"})
	}
	return nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
