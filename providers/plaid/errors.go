package plaid

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-banklink/core"
	goerrors "github.com/goliatone/go-errors"
)

var ErrCredentialsRequired = errors.New("providers/plaid: client id and secret are required")

// APIError is the error body returned by the Plaid API.
type APIError struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
	StatusCode     int    `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("providers/plaid: %s/%s: %s", e.ErrorType, e.ErrorCode, e.ErrorMessage)
}

func mapAPIError(operation string, apiErr *APIError) error {
	category, code, textCode := classify(apiErr)
	return goerrors.Wrap(apiErr, category, "plaid "+operation+" failed").
		WithCode(code).
		WithTextCode(textCode).
		WithMetadata(map[string]any{
			"aggregator":  AggregatorName,
			"operation":   operation,
			"error_type":  apiErr.ErrorType,
			"error_code":  apiErr.ErrorCode,
			"request_id":  apiErr.RequestID,
			"status_code": apiErr.StatusCode,
		})
}

func classify(apiErr *APIError) (goerrors.Category, int, string) {
	errorType := strings.ToUpper(strings.TrimSpace(apiErr.ErrorType))
	errorCode := strings.ToUpper(strings.TrimSpace(apiErr.ErrorCode))
	switch {
	case errorType == "RATE_LIMIT_EXCEEDED":
		return goerrors.CategoryRateLimit, http.StatusTooManyRequests, core.LinkErrorRateLimited
	case errorCode == "INVALID_API_KEYS", errorCode == "UNAUTHORIZED_ENVIRONMENT":
		return goerrors.CategoryAuth, http.StatusBadGateway, core.LinkErrorUnauthorized
	case errorCode == "INVALID_PUBLIC_TOKEN", errorCode == "INVALID_ACCESS_TOKEN":
		return goerrors.CategoryBadInput, http.StatusBadRequest, core.LinkErrorBadInput
	case errorType == "INVALID_REQUEST", errorType == "INVALID_INPUT":
		return goerrors.CategoryBadInput, http.StatusBadRequest, core.LinkErrorBadInput
	default:
		return goerrors.CategoryExternal, http.StatusBadGateway, core.LinkErrorAggregatorFailure
	}
}
