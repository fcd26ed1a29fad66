package validator

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/stemsi/exstem-client/internal/examerr"
)

// trans is the singleton English translator for validation errors.
var trans ut.Translator

var (
	setupOnce   sync.Once
	clientOnce  sync.Once
	client      *govalidator.Validate
	clientTrans ut.Translator
)

// Setup registers the validator with English translations on Gin's binding engine.
// Safe to call more than once; only the first call configures.
func Setup() {
	setupOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
			trans = configure(v)
		}
	})
}

// configure uses JSON tag names for fields and registers English translations.
// Each validator gets its own translator; translations cannot be registered twice.
func configure(v *govalidator.Validate) ut.Translator {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	t, _ := uni.GetTranslator("en")
	en_translations.RegisterDefaultTranslations(v, t)
	return t
}

// clientValidator returns the validator used for outgoing requests. It reads the
// `validate` struct tag, separate from gin's `binding` tag.
func clientValidator() *govalidator.Validate {
	clientOnce.Do(func() {
		client = govalidator.New(govalidator.WithRequiredStructEnabled())
		clientTrans = configure(client)
	})
	return client
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	return translate(err, trans)
}

func translate(err error, t ut.Translator) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if t == nil {
				fields[fe.Field()] = fe.Error()
				continue
			}
			fields[fe.Field()] = fe.Translate(t)
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// Check validates an outgoing request struct. The first failing field (by name) is
// returned as a ValidationError so the caller fails before touching the network.
func Check(v interface{}) error {
	err := clientValidator().Struct(v)
	if err == nil {
		return nil
	}

	fields := translate(err, clientTrans)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return examerr.Validation(names[0], fields[names[0]])
}
