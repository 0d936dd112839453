// validate.go -- JSON body decoding and field validation.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON name so details keys match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads the request body into dst. Writes a 400 and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// fieldErrors validates s. missing reports whether any failure was a required field.
// details maps every name in fields to its message, or nil when that field passed.
func fieldErrors(s any, fields ...string) (details map[string]any, missing bool) {
	err := validate.Struct(s)
	if err == nil {
		return nil, false
	}

	details = make(map[string]any, len(fields))
	for _, f := range fields {
		details[f] = nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		details["_"] = err.Error()
		return details, false
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = true
		}
		details[fe.Field()] = msgForTag(fe)
	}
	return details, missing
}

func msgForTag(fe validator.FieldError) string {
	label := fe.Field()
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	}
	return fmt.Sprintf("%s failed on '%s' validation", label, fe.Tag())
}
