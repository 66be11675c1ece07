package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entrans "github.com/go-playground/validator/v10/translations/en"
)

const requiredText = "this field is required"

var identifierRegex = regexp.MustCompile(`^\w+$`)

// NewTranslator returns the english translator used for validation messages.
func NewTranslator() ut.Translator {
	locale := en.New()
	translator, _ := ut.New(locale, locale).GetTranslator(locale.Locale())
	return translator
}

// InitValidators registers the english messages, the app-wide tags and reports fields by their JSON name.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = entrans.RegisterDefaultTranslations(validate, translator)
	validate.RegisterTagNameFunc(jsonFieldName)

	// usernames
	_ = validate.RegisterValidation("alphanum_", func(fl validator.FieldLevel) bool {
		return identifierRegex.MatchString(fl.Field().String())
	})
	RegisterCustomTranslation(validate, translator, "alphanum_", "only alphanumeric characters and underscores are allowed")

	for _, tag := range []string{"required", "required_with"} {
		RegisterCustomTranslation(validate, translator, tag, requiredText, true)
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// RegisterCustomTranslation sets the message reported for tag. {0} in text is replaced by the field name.
// Pass override to replace a default translation.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	replace := len(override) > 0 && override[0]
	register := func(t ut.Translator) error {
		return t.Add(tag, text, replace)
	}
	translate := func(t ut.Translator, fe validator.FieldError) string {
		msg, err := t.T(tag, fe.Field())
		if err != nil {
			return fe.Error()
		}
		return msg
	}
	_ = validate.RegisterTranslation(tag, translator, register, translate)
}
