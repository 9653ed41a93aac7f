package validation

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/gofiber/fiber/v2"

	"github.com/fieldsales/backend/internal/storage/models"
)

const (
	notBlankTag = "notblank"
	roleTag     = "role"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Errors are keyed by the form field name.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"form", "json"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	_ = validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && strings.TrimSpace(s) != ""
	})
	_ = validate.RegisterValidation(roleTag, func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case models.RoleAdmin, models.RoleMarketer, models.RoleObserver:
			return true
		}
		return false
	})

	noop := func(ut.Translator) error { return nil }
	_ = validate.RegisterTranslation(notBlankTag, translator, noop, func(_ ut.Translator, fe validator.FieldError) string {
		return "this field cannot be blank"
	})
	_ = validate.RegisterTranslation(roleTag, translator, noop, func(_ ut.Translator, fe validator.FieldError) string {
		return "must be one of admin, marketer, observer"
	})
}

// FormError carries per-field messages back to the form that was submitted.
type FormError struct {
	Fields map[string]string
}

func (e *FormError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

func NewFormError(field, message string) *FormError {
	return &FormError{Fields: map[string]string{field: message}}
}

// Struct validates v against its validate tags.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := &FormError{Fields: make(map[string]string, len(verrs))}
	for _, e := range verrs {
		fe.Fields[e.Field()] = e.Translate(translator)
	}
	return fe
}

// Var validates a single value under the given field name.
func Var(field string, value interface{}, tag string) error {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	return NewFormError(field, strings.TrimSpace(verrs[0].Translate(translator)))
}

// Bind parses the request body (form or JSON) into dst and validates it.
func Bind(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return NewFormError("body", "could not be parsed")
	}
	return Struct(dst)
}

// Coordinates is the body of a live location update.
type Coordinates struct {
	Latitude  *float64 `json:"latitude" form:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" form:"longitude" validate:"required,longitude"`
}
