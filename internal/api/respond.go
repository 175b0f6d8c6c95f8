package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/alertmed/scheduling/internal/appointment"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

var kindStatus = map[appointment.Kind]int{
	appointment.KindUnauthenticated:   http.StatusUnauthorized,
	appointment.KindForbidden:         http.StatusForbidden,
	appointment.KindNotFound:          http.StatusNotFound,
	appointment.KindValidation:        http.StatusBadRequest,
	appointment.KindConflict:          http.StatusConflict,
	appointment.KindInvalidTransition: http.StatusConflict,
	appointment.KindStaleState:        http.StatusConflict,
}

// writeServiceError renders a structured service error. Anything else is an
// unexpected failure and is logged, not shown.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var se *appointment.Error
	if errors.As(err, &se) {
		status, ok := kindStatus[se.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, ErrorResponse{Error: string(se.Kind), Details: se.Message, ID: se.ID})
		return
	}

	hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error, please retry")
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// An empty body is accepted for requests whose fields are all optional.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &appointment.Error{Kind: appointment.KindValidation, Message: "could not parse JSON body"}
	}
	if err := validate.Struct(dst); err != nil {
		return &appointment.Error{Kind: appointment.KindValidation, Message: formatValidationError(err)}
	}
	return nil
}

func formatValidationError(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		field := e.Field()
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, e.Tag(), e.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", field, e.Tag()))
	}
	return strings.Join(msgs, ", ")
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &appointment.Error{Kind: appointment.KindValidation, Message: name + " must be a valid UUID"}
	}
	return id, nil
}

func optionalID(raw, field string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, &appointment.Error{Kind: appointment.KindValidation, Message: field + " must be a valid UUID"}
	}
	return &id, nil
}
