package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

// respondWithError writes the error envelope.
func respondWithError(w http.ResponseWriter, status int, code apperr.Code, message string) {
	respondWithJSON(w, status, ErrorResponse{Error: string(code), Message: message})
}

// respondWithAppError renders a service error. Only the coded message reaches
// the client; the wrapped cause stays in the logs.
func respondWithAppError(w http.ResponseWriter, err error) {
	respondWithError(w, mapErrorToStatusCode(err), apperr.CodeOf(err), apperr.MessageOf(err))
}

// respondWithJSON writes payload as JSON with the given status.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"PERSISTENCE_FAILURE","message":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInsufficientStock:
		return http.StatusUnprocessableEntity
	case apperr.CodeInvalidAction, apperr.CodeInvalidInput:
		return http.StatusBadRequest
	case apperr.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fieldPath(fe.Namespace())
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "email":
			details[field] = "must be a valid email address"
		case "min":
			details[field] = "must contain at least " + fe.Param()
		case "gt":
			details[field] = "must be greater than " + fe.Param()
		case "oneof":
			details[field] = "must be one of: " + fe.Param()
		default:
			details[field] = "failed on " + fe.Tag()
		}
	}
	return details
}

// fieldPath drops the request struct name from a validator namespace, so
// "CreateOrderRequest.items[0].quantity" becomes "items[0].quantity".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// respondValidation writes a 400 for validator errors and a 500 for anything
// else Struct returned.
func respondValidation(w http.ResponseWriter, err error) {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, apperr.CodePersistence, "Internal validation error")
		return
	}
	respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:   string(apperr.CodeInvalidInput),
		Message: "Validation failed",
		Details: formatValidationErrors(validationErrors),
	})
}
