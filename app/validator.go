package huddle

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate
var uniTrans *ut.UniversalTranslator

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	en := en.New()
	uniTrans = ut.New(en, en)
	enTrans, _ := uniTrans.GetTranslator("en")

	// lowercase first letter of the field
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return strings.ToLower(field.Name)
	})

	validate.RegisterValidation("port", func(fl validator.FieldLevel) bool {
		port, ok := fl.Field().Interface().(int)
		if !ok {
			return false
		}
		return port > 0 && port <= 65535
	})

	validate.RegisterValidation("room", func(fl validator.FieldLevel) bool {
		return validRoomKey(fl.Field().String())
	})

	register := func(tag, text string, param bool) {
		validate.RegisterTranslation(tag, enTrans, func(ut ut.Translator) error {
			return ut.Add(tag, text, true)
		}, func(ut ut.Translator, fe validator.FieldError) string {
			params := []string{fieldPath(fe)}
			if param {
				params = append(params, strings.ToLower(fe.Param()))
			}
			t, _ := ut.T(tag, params...)
			return t
		})
	}
	register("required", "{0} is a required field", false)
	register("required_with", "{0} is required when {1} is set", true)
	register("port", "{0} must be a valid port number", false)
	register("room", "{0} must be a valid room name", false)
	register("oneof", "{0} must be one of [{1}]", true)
	register("min", "{0} must be at least {1}", true)
}

// fieldPath is the namespace without the root struct name, e.g. ws.defaultroom.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// validRoomKey accepts a single non-blank path segment.
func validRoomKey(s string) bool {
	return strings.TrimSpace(s) != "" && !strings.Contains(s, "/")
}
