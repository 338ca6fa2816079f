// Package validation checks RPC params with go-playground/validator and
// bounds request bodies.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/mbd888/securityguard/internal/chain"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

// ErrInvalid is wrapped by every Errors value.
var ErrInvalid = errors.New("validation failed")

// Custom tags registered on every Validator.
const (
	TagAddress  = "address"
	TagAmount   = "amount"
	TagCalldata = "calldata"
	TagNotBlank = "notblank"
)

// FieldError is one failed field.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"-"`
	Message string `json:"message"`
}

// Errors is a collection of field errors.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return ErrInvalid.Error()
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return strings.Join(parts, "; ")
}

func (e Errors) Unwrap() error { return ErrInvalid }

// Has reports whether any field failed tag.
func (e Errors) Has(tag string) bool {
	for _, fe := range e {
		if fe.Tag == tag {
			return true
		}
	}
	return false
}

// Validator wraps a configured validator.Validate. Field names in errors
// come from json tags.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator with the chain-aware tags registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation(TagAddress, func(fl validator.FieldLevel) bool {
		_, err := chain.ParseAddress(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation(TagAmount, func(fl validator.FieldLevel) bool {
		_, err := chain.ParseAmount(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation(TagCalldata, func(fl validator.FieldLevel) bool {
		_, err := chain.DecodeCalldata(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation(TagNotBlank, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{validate: v}
}

// Struct validates s. Failures come back as Errors.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Tag: fe.Tag(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", TagNotBlank:
		return "is required"
	case TagAddress:
		return "must be a 0x-prefixed 20-byte hex address"
	case TagAmount:
		return "must be a non-negative integer, 0x hex or \"infinite\""
	case TagCalldata:
		return "must be 0x-prefixed hex"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "failed " + fe.Tag()
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims whitespace, drops null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}
