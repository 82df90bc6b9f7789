package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Comcast/automata/auth"
	"github.com/Comcast/automata/core"
)

// BadRequest marks malformed requests.
var BadRequest = core.NewCodedError("BadRequest", "bad request")

type apiErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// apiError is the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) Error() string {
	return e.Body.Message
}

var statuses = map[string]int{
	"BadRequest":                http.StatusBadRequest,
	"FormatError":               http.StatusBadRequest,
	"Overflow":                  http.StatusBadRequest,
	"Underflow":                 http.StatusBadRequest,
	"UnknownEventType":          http.StatusBadRequest,
	"InvalidEventPayload":       http.StatusBadRequest,
	"Unauthorized":              http.StatusUnauthorized,
	"Forbidden":                 http.StatusForbidden,
	"NotFound":                  http.StatusNotFound,
	"VersionConflict":           http.StatusConflict,
	"Archived":                  http.StatusConflict,
	"TransitionExecutionFailed": http.StatusUnprocessableEntity,
	"UnknownBuiltin":            http.StatusUnprocessableEntity,
	"HashMismatch":              http.StatusUnprocessableEntity,
	"SignatureRequired":         http.StatusUnprocessableEntity,
	"AppNotFound":               http.StatusUnprocessableEntity,
	"AccountNotFound":           http.StatusUnprocessableEntity,
	"InvalidSignature":          http.StatusUnprocessableEntity,
}

// code extends core.Code with the errors this package sees.
func code(err error) string {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return "Unauthorized"
	case errors.As(err, &verrs):
		return "BadRequest"
	}
	return core.Code(err)
}

func newAPIError(err error) *apiError {
	c := code(err)
	status, have := statuses[c]
	if !have {
		status = http.StatusInternalServerError
	}

	e := &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    c,
			Message: err.Error(),
		},
	}

	var uet *core.UnknownEventType
	if errors.As(err, &uet) {
		e.Body.Details = map[string]interface{}{
			"validEventTypes": uet.Valid,
		}
	}

	if status == http.StatusInternalServerError {
		e.Body.Message = "internal error"
	}

	return e
}

func writeJSON(w http.ResponseWriter, status int, x interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(x); err != nil {
		log.Warn().Err(err).Msg("response write failed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := newAPIError(err)
	if e.status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Str("code", e.Body.Code).Msg("request failed")
	}
	writeJSON(w, e.status, e)
}
