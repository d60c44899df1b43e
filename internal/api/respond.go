package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/wire"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// bodyError is a malformed or invalid request body.
type bodyError struct {
	message string
	details map[string]string
}

func (e *bodyError) Error() string { return e.message }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	// Compare decimals numerically so gt=0 works on money fields.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func decodeJSON(r *http.Request, dest any) error {
	defer io.Copy(io.Discard, r.Body)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return &bodyError{message: "invalid request body", details: map[string]string{"body": err.Error()}}
	}
	if err := validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := map[string]string{}
			for _, fe := range verrs {
				details[fe.Field()] = validationMessage(fe)
			}
			return &bodyError{message: "validation failed", details: details}
		}
		return &bodyError{message: "validation failed: " + err.Error()}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "nefield":
		return fmt.Sprintf("must differ from %s", fe.Param())
	}
	return "is invalid"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

// writeError maps err onto a status and the ErrorBody shape. Storage and
// other unexpected errors are logged and reported without detail.
func writeError(log *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, ErrorBody{Error: body})
}

func classify(err error) (int, APIError) {
	if le := ledgererr.As(err); le != nil {
		meta := ledgererr.MetadataFor(le.Kind)
		return meta.HTTPStatus, APIError{Kind: string(le.Kind), Message: le.Error(), Details: ledgerDetails(le)}
	}

	var be *bodyError
	switch {
	case errors.As(err, &be):
		var details any
		if len(be.details) > 0 {
			details = be.details
		}
		return http.StatusBadRequest, APIError{Kind: string(ledgererr.KindInvalidInput), Message: be.message, Details: details}
	case errors.Is(err, wire.ErrSessionNotFound):
		return http.StatusNotFound, APIError{Kind: "WIRE_NOT_FOUND", Message: err.Error()}
	case errors.Is(err, wire.ErrNotInitiator):
		return http.StatusForbidden, APIError{Kind: "WIRE_NOT_INITIATOR", Message: err.Error()}
	case errors.Is(err, wire.ErrNotAwaiting):
		return http.StatusConflict, APIError{Kind: "WIRE_NOT_AWAITING", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, APIError{Kind: "UNAVAILABLE", Message: "request cancelled"}
	}
	return http.StatusInternalServerError, APIError{Kind: "INTERNAL", Message: "internal error"}
}

func ledgerDetails(e *ledgererr.Error) any {
	details := map[string]string{}
	if e.UID != "" {
		details["uid"] = e.UID
	}
	if e.Entity != "" {
		details["entity"] = e.Entity
	}
	if !e.Have.IsZero() || !e.Need.IsZero() {
		details["have"] = e.Have.String()
		details["need"] = e.Need.String()
	}
	if e.Reason != "" {
		details["reason"] = e.Reason
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
