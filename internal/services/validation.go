package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error     string            `json:"error"`               // Error message
	Code      string            `json:"code,omitempty"`      // Machine-readable error code
	Available string            `json:"available,omitempty"` // Available balance, echoed on insufficient funds
	Details   map[string]string `json:"details,omitempty"`   // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// WriteLedgerError maps the ledger error taxonomy onto HTTP responses.
// Insufficient-funds responses always echo the available balance.
func WriteLedgerError(w http.ResponseWriter, err error, fallback string) {
	w.Header().Set("Content-Type", "application/json")

	var insufficient *InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:     "Insufficient funds",
			Code:      "INSUFFICIENT_FUNDS",
			Available: insufficient.Available.String(),
		})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidEntryType), errors.Is(err, ErrBelowMinimum):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyTerminal):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Code: "INVALID_STATE"})
	case errors.Is(err, ErrConcurrentModification):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Code: "CONFLICT_RETRY"})
	case errors.Is(err, ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "Not found", Code: "NOT_FOUND"})
	case errors.Is(err, ErrForbidden):
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "Access denied", Code: "FORBIDDEN"})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{Error: fallback})
	}
}
