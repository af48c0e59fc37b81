package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-product-orders/internal/logging"
	"github.com/ariefcatur/go-product-orders/internal/orders"
)

var now = time.Now

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// respond writes {message, timestamp, status} plus any payload fields.
func respond(w http.ResponseWriter, code int, message string, fields map[string]any) {
	body := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		body[k] = v
	}
	body["message"] = message
	body["timestamp"] = now().UTC().Format(time.RFC3339)
	if code >= 400 {
		body["status"] = "error"
	} else {
		body["status"] = "ok"
	}
	writeJSON(w, code, body)
}

var statusByKind = map[orders.Kind]int{
	orders.KindInvalidRequest:           http.StatusBadRequest,
	orders.KindNotFound:                 http.StatusNotFound,
	orders.KindUnauthorized:             http.StatusForbidden,
	orders.KindOrderLocked:              http.StatusConflict,
	orders.KindInsufficientStock:        http.StatusConflict,
	orders.KindInvalidOperation:         http.StatusUnprocessableEntity,
	orders.KindConflict:                 http.StatusConflict,
	orders.KindPersistenceInconsistency: http.StatusInternalServerError,
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var de *orders.Error
	if errors.As(err, &de) {
		code, ok := statusByKind[de.Kind]
		if !ok {
			code = http.StatusInternalServerError
		}
		if code >= 500 {
			logging.FromContext(r.Context()).Error("request failed", zap.String("kind", string(de.Kind)), zap.Error(err))
		}
		respond(w, code, de.Message, map[string]any{"error": string(de.Kind)})
		return
	}
	logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
	respond(w, http.StatusInternalServerError, "internal server error", map[string]any{"error": "internal"})
}

// decode reads a json body into dst and runs struct validation.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &orders.Error{Op: "httpx.decode", Kind: orders.KindInvalidRequest, Message: "invalid json body", Err: err}
	}
	if err := validate.Struct(dst); err != nil {
		return &orders.Error{Op: "httpx.validate", Kind: orders.KindInvalidRequest, Message: validationMessage(err), Err: err}
	}
	return nil
}

func validationMessage(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return "invalid request"
	}
	fe := ves[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "gt", "gte":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", field)
}
