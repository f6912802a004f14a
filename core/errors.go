package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	LinkErrorBadInput               = "LINK_BAD_INPUT"
	LinkErrorTokenAcquisitionFailed = "LINK_TOKEN_ACQUISITION_FAILED"
	LinkErrorExchangeFailed         = "LINK_EXCHANGE_FAILED"
	LinkErrorPublicTokenReused      = "LINK_PUBLIC_TOKEN_REUSED"
	LinkErrorItemNotFound           = "LINK_ITEM_NOT_FOUND"
	LinkErrorUnauthorized           = "LINK_UNAUTHORIZED"
	LinkErrorForbidden              = "LINK_FORBIDDEN"
	LinkErrorRateLimited            = "LINK_RATE_LIMITED"
	LinkErrorAggregatorFailure      = "LINK_AGGREGATOR_FAILURE"
	LinkErrorInternal               = "LINK_INTERNAL_ERROR"
)

// AsLinkError returns err as a go-errors envelope carrying an HTTP code and a
// LINK_* text code.
func AsLinkError(err error) *goerrors.Error {
	return linkErrorMapper(err)
}

func linkErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureLinkErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrInvalidUserIdentity), errors.Is(err, ErrPublicTokenRequired):
		return wrapLinkError(err, goerrors.CategoryBadInput, LinkErrorBadInput)
	case errors.Is(err, ErrEmptyLinkToken):
		return wrapLinkError(err, goerrors.CategoryExternal, LinkErrorTokenAcquisitionFailed)
	case errors.Is(err, ErrPublicTokenAlreadyClaimed):
		return wrapLinkError(err, goerrors.CategoryConflict, LinkErrorPublicTokenReused)
	case errors.Is(err, ErrItemNotFound):
		return wrapLinkError(err, goerrors.CategoryNotFound, LinkErrorItemNotFound)
	case errors.Is(err, ErrInvalidItemStatusTransition), errors.Is(err, ErrInvalidLinkStateTransition):
		return wrapLinkError(err, goerrors.CategoryConflict, LinkErrorBadInput)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newLinkError(err.Error(), goerrors.CategoryRateLimit, LinkErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newLinkError(err.Error(), goerrors.CategoryBadInput, LinkErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureLinkErrorEnvelope(mapped)
}

func newLinkError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureLinkErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func wrapLinkError(source error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureLinkErrorEnvelope(
		goerrors.Wrap(source, category, source.Error()).
			WithTextCode(textCode),
	)
}

func ensureLinkErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = linkHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = LinkTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

// LinkTextCode is the LINK_* code for an envelope that carries none. Any
// category without its own code, CategoryOperation included, is internal.
func LinkTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return LinkErrorBadInput
	case goerrors.CategoryNotFound:
		return LinkErrorItemNotFound
	case goerrors.CategoryAuth:
		return LinkErrorUnauthorized
	case goerrors.CategoryAuthz:
		return LinkErrorForbidden
	case goerrors.CategoryConflict:
		return LinkErrorPublicTokenReused
	case goerrors.CategoryRateLimit:
		return LinkErrorRateLimited
	case goerrors.CategoryExternal:
		return LinkErrorAggregatorFailure
	default:
		return LinkErrorInternal
	}
}

func linkHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewLinkFailureError wraps a collaborator failure with the text code of the
// failure kind it produced.
func NewLinkFailureError(kind LinkFailureKind, source error) *goerrors.Error {
	textCode := LinkErrorInternal
	message := "link failure"
	switch kind {
	case LinkFailureTokenAcquisition:
		textCode = LinkErrorTokenAcquisitionFailed
		message = "link token acquisition failed"
	case LinkFailureExchange:
		textCode = LinkErrorExchangeFailed
		message = "public token exchange failed"
	}
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, goerrors.CategoryExternal)
	} else {
		err = goerrors.Wrap(source, goerrors.CategoryExternal, message)
	}
	return ensureLinkErrorEnvelope(err.WithTextCode(textCode))
}
