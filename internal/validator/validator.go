package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once   sync.Once
	trans  ut.Translator
	engine *govalidator.Validate
)

var settingKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Setup wires English messages, JSON field names and the custom tags into gin's
// binding engine. Safe to call more than once.
func Setup() {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			v = govalidator.New()
			v.SetTagName("binding")
		}
		configure(v)
		engine = v
	})
}

func configure(v *govalidator.Validate) {
	v.RegisterTagNameFunc(jsonFieldName)

	enLocale := en.New()
	trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	// setting_key: lowercase snake_case app_settings keys.
	_ = v.RegisterValidation("setting_key", func(fl govalidator.FieldLevel) bool {
		return settingKeyPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterTranslation("setting_key", trans,
		func(u ut.Translator) error {
			return u.Add("setting_key", "{0} must be a lowercase snake_case key", true)
		},
		func(u ut.Translator, fe govalidator.FieldError) string {
			msg, _ := u.T("setting_key", fe.Field())
			return msg
		},
	)
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// TranslateErrors turns a binding error into field -> message. Anything that is
// not a validation error (bad JSON, wrong types) lands under "detail".
func TranslateErrors(err error) map[string]string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"detail": err.Error()}
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		if trans != nil {
			fields[fe.Field()] = fe.Translate(trans)
		} else {
			fields[fe.Field()] = fe.Error()
		}
	}
	return fields
}

// Bind decodes the JSON body into dst and validates it. nil means success.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// Struct validates an already-decoded value, such as a WebSocket message, with the
// same `binding` rules HTTP requests use.
func Struct(dst interface{}) map[string]string {
	Setup()
	if err := engine.Struct(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
