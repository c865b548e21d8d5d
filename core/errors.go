package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrNotFound              = errors.New("core: authorization not found")
	ErrConflict              = errors.New("core: authorization write conflict")
	ErrExchangeFailed        = errors.New("core: authorization code exchange failed")
	ErrRefreshFailed         = errors.New("core: token refresh failed")
	ErrRevokeFailed          = errors.New("core: remote token revoke failed")
	ErrInactiveAuthorization = errors.New("core: authorization is not active")
	ErrInvalidState          = errors.New("core: authorization state is invalid for operation")

	// ErrProviderUnauthorized is returned by capability probes when the
	// provider rejects the access token.
	ErrProviderUnauthorized = errors.New("core: provider rejected access token")
)

const (
	ServiceErrorBadInput       = "AUTHORIZATION_BAD_INPUT"
	ServiceErrorNotFound       = "AUTHORIZATION_NOT_FOUND"
	ServiceErrorConflict       = "AUTHORIZATION_CONFLICT"
	ServiceErrorExchangeFailed = "AUTHORIZATION_EXCHANGE_FAILED"
	ServiceErrorRefreshFailed  = "AUTHORIZATION_REFRESH_FAILED"
	ServiceErrorRevokeFailed   = "AUTHORIZATION_REVOKE_FAILED"
	ServiceErrorInactive       = "AUTHORIZATION_INACTIVE"
	ServiceErrorInvalidState   = "AUTHORIZATION_INVALID_STATE"
	ServiceErrorUnauthorized   = "AUTHORIZATION_PROVIDER_UNAUTHORIZED"
	ServiceErrorInternal       = "AUTHORIZATION_INTERNAL_ERROR"
)

type sentinelMapping struct {
	sentinel error
	category goerrors.Category
	textCode string
}

var sentinelMappings = []sentinelMapping{
	{sentinel: ErrNotFound, category: goerrors.CategoryNotFound, textCode: ServiceErrorNotFound},
	{sentinel: ErrConflict, category: goerrors.CategoryConflict, textCode: ServiceErrorConflict},
	{sentinel: ErrExchangeFailed, category: goerrors.CategoryExternal, textCode: ServiceErrorExchangeFailed},
	{sentinel: ErrRefreshFailed, category: goerrors.CategoryExternal, textCode: ServiceErrorRefreshFailed},
	{sentinel: ErrRevokeFailed, category: goerrors.CategoryExternal, textCode: ServiceErrorRevokeFailed},
	{sentinel: ErrInactiveAuthorization, category: goerrors.CategoryOperation, textCode: ServiceErrorInactive},
	{sentinel: ErrInvalidState, category: goerrors.CategoryConflict, textCode: ServiceErrorInvalidState},
	{sentinel: ErrProviderUnauthorized, category: goerrors.CategoryAuth, textCode: ServiceErrorUnauthorized},
}

// ToServiceError returns err as a go-errors envelope carrying the
// authorization text code and HTTP status.
func ToServiceError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	for _, mapping := range sentinelMappings {
		if errors.Is(err, mapping.sentinel) {
			return newServiceError(err, mapping.category, mapping.textCode)
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "lock already held"):
		return newServiceError(err, goerrors.CategoryConflict, ServiceErrorConflict)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err, goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(source error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.Wrap(source, category, source.Error()).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotFound
	case goerrors.CategoryConflict:
		return ServiceErrorConflict
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ServiceErrorUnauthorized
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict, goerrors.CategoryOperation:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	return matchesKind(err, ErrNotFound, ServiceErrorNotFound)
}

func IsConflict(err error) bool {
	return matchesKind(err, ErrConflict, ServiceErrorConflict)
}

func IsExchangeFailed(err error) bool {
	return matchesKind(err, ErrExchangeFailed, ServiceErrorExchangeFailed)
}

func IsRefreshFailed(err error) bool {
	return matchesKind(err, ErrRefreshFailed, ServiceErrorRefreshFailed)
}

func IsRevokeFailed(err error) bool {
	return matchesKind(err, ErrRevokeFailed, ServiceErrorRevokeFailed)
}

func IsInactiveAuthorization(err error) bool {
	return matchesKind(err, ErrInactiveAuthorization, ServiceErrorInactive)
}

func IsInvalidState(err error) bool {
	return matchesKind(err, ErrInvalidState, ServiceErrorInvalidState)
}

func IsProviderUnauthorized(err error) bool {
	return matchesKind(err, ErrProviderUnauthorized, ServiceErrorUnauthorized)
}

func matchesKind(err error, sentinel error, textCode string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sentinel) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.EqualFold(strings.TrimSpace(richErr.TextCode), textCode)
	}
	return false
}
