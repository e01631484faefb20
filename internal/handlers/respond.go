package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/silluthedon/delta/internal/gate"
	"github.com/silluthedon/delta/internal/identity"
	"github.com/silluthedon/delta/internal/logging"
	"github.com/silluthedon/delta/internal/search"
	"github.com/silluthedon/delta/internal/session"
)

const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

type errorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// subscriptionRequiredResponse is the 403 body for locked single-record requests.
type subscriptionRequiredResponse struct {
	errorResponse
	Preview    gate.Card `json:"preview"`
	PaymentURL string    `json:"paymentUrl,omitempty"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	logger := logging.FromContext(ctx)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("encode response body", "status", status, "error", err)
		return
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	respondJSON(ctx, w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var locked *gate.SubscriptionRequiredError
	switch {
	case errors.As(err, &locked):
		respondJSON(ctx, w, http.StatusForbidden, subscriptionRequiredResponse{
			errorResponse: errorResponse{Error: "subscription required", Code: "subscription_required"},
			Preview:       locked.Preview,
			PaymentURL:    locked.PaymentURL,
		})
	case errors.Is(err, identity.ErrInvalidCredentials):
		respondError(ctx, w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, identity.ErrAlreadyRegistered):
		respondError(ctx, w, http.StatusConflict, "already_registered", "account already exists")
	case errors.Is(err, identity.ErrWeakCredential):
		respondError(ctx, w, http.StatusBadRequest, "weak_credential", err.Error())
	case errors.Is(err, identity.ErrSignOutFailed):
		respondError(ctx, w, http.StatusBadGateway, "sign_out_failed", "unable to sign out")
	case errors.Is(err, gate.ErrRecordNotFound):
		respondError(ctx, w, http.StatusNotFound, "not_found", "video not found")
	case errors.Is(err, gate.ErrCatalogUnavailable):
		respondError(ctx, w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog temporarily unavailable")
	case errors.Is(err, session.ErrProfileUnavailable):
		respondError(ctx, w, http.StatusServiceUnavailable, "profile_unavailable", "profile temporarily unavailable")
	case errors.Is(err, session.ErrNoSession):
		respondError(ctx, w, http.StatusUnauthorized, "unauthenticated", "sign in required")
	case errors.Is(err, search.ErrUnknownKey):
		respondError(ctx, w, http.StatusBadRequest, "unknown_key", err.Error())
	default:
		logging.FromContext(ctx).Error("unhandled service error", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// decodeJSON reads a bounded JSON body into dest and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) *errorResponse {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return &errorResponse{Error: "invalid request body", Code: "invalid_body"}
	}
	return validateStruct(dest)
}

func validateStruct(dest any) *errorResponse {
	err := validate.Struct(dest)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &errorResponse{Error: "validation failed", Code: "validation_failed"}
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = validationMessage(fe)
	}
	return &errorResponse{Error: "validation failed", Code: "validation_failed", Details: details}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}
