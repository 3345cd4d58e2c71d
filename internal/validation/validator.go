package validation

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/currency"
)

// New returns a validator that reports json field names and knows the
// payment-specific tags:
//
//	currency_code  three-letter ISO 4217 code
//	minor_units    amount has no more decimals than the currency allows;
//	               the param names the sibling currency field, e.g. minor_units=Currency
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("currency_code", func(fl validatorv10.FieldLevel) bool {
		return currency.Valid(fl.Field().String())
	})
	_ = v.RegisterValidation("minor_units", minorUnits)
	return v
}

func minorUnits(fl validatorv10.FieldLevel) bool {
	field := fl.Param()
	if field == "" {
		return true
	}
	cur := fl.Parent().FieldByName(field)
	if !cur.IsValid() || cur.Kind() != reflect.String {
		return true
	}
	amount := decimal.NewFromFloat(fl.Field().Float())
	places := currency.Default().Places(cur.String())
	return amount.Equal(amount.Round(places))
}

var defaultValidator = sync.OnceValue(New)

// Validate checks s with the shared validator.
func Validate(s any) error {
	return Check(defaultValidator(), s)
}

// Check runs v over s and converts failures into a VALIDATION_ERROR whose data
// maps each failing field to the rule it broke.
func Check(v *validatorv10.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	return apperr.New(apperr.CodeValidation, "request failed validation",
		apperr.WithStatus(http.StatusBadRequest),
		apperr.WithData(map[string]any{"fields": FieldErrors(err)}),
		apperr.WithCause(err))
}

// FieldErrors flattens validator errors into field -> rule.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fieldPath(fe)] = rule(fe)
		}
		return out
	}
	out["error"] = err.Error()
	return out
}

// fieldPath drops the leading struct name from the namespace.
func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func rule(fe validatorv10.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}
