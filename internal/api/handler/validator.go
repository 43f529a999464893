package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// echoValidator wraps go-playground/validator so Echo can call c.Validate(req).
type echoValidator struct {
	v *validator.Validate
}

// NewValidator returns a validator that reports fields by their request name
// and understands the estimate_status tag.
func NewValidator() *echoValidator {
	v := validator.New()
	v.RegisterTagNameFunc(requestName)
	_ = v.RegisterValidation("estimate_status", func(fl validator.FieldLevel) bool {
		return domain.EstimateStatus(fl.Field().String()).Valid()
	})
	return &echoValidator{v: v}
}

func (ev *echoValidator) Validate(i any) error {
	err := ev.v.Struct(i)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fieldError(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// requestName picks the name a client used for the field: json body key,
// query parameter or path parameter, in that order.
func requestName(f reflect.StructField) string {
	for _, tag := range []string{"json", "query", "param"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

func fieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "estimate_status":
		return fmt.Sprintf("%s must be one of: pending approved rejected sold", field)
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}
