package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterValidation("notblank", validators.NotBlank)
	validate.RegisterTagNameFunc(jsonTagName)
}

// validatePayload maps validator failures onto the core error taxonomy.
func validatePayload(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "name":
			return ErrEmptyName
		case "text":
			return ErrEmptyText
		}
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("%w: invalid %s", ErrMalformedEvent, strings.Join(fields, ", "))
}

// jsonTagName reports fields by their wire name.
func jsonTagName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}
