package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	OutboundErrorBadInput          = "OUTBOUND_BAD_INPUT"
	OutboundErrorConfigInvalid     = "OUTBOUND_CONFIG_INVALID"
	OutboundErrorNotFound          = "OUTBOUND_NOT_FOUND"
	OutboundErrorInvalidTransition = "OUTBOUND_INVALID_TRANSITION"
	OutboundErrorTransportFailed   = "OUTBOUND_TRANSPORT_FAILED"
	OutboundErrorCooldownActive    = "OUTBOUND_COOLDOWN_ACTIVE"
	OutboundErrorInternal          = "OUTBOUND_INTERNAL_ERROR"
)

// MapError normalizes any error into the outbound error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureOutboundErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrDeliveryNotFound):
		return newOutboundError(err.Error(), goerrors.CategoryNotFound, OutboundErrorNotFound)
	case errors.Is(err, ErrInvalidDeliveryStatusTransition), errors.Is(err, ErrInvalidAttemptSequence):
		return newOutboundError(err.Error(), goerrors.CategoryConflict, OutboundErrorInvalidTransition)
	case errors.Is(err, ErrInvalidConnectorType):
		return newOutboundError(err.Error(), goerrors.CategoryBadInput, OutboundErrorBadInput)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newOutboundError(err.Error(), goerrors.CategoryNotFound, OutboundErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must be"):
		return newOutboundError(err.Error(), goerrors.CategoryBadInput, OutboundErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureOutboundErrorEnvelope(mapped)
}

// NewConfigError reports a connector configuration problem. These are never
// attempted against the external system.
func NewConfigError(message string, metadata map[string]any) *goerrors.Error {
	err := newOutboundError(message, goerrors.CategoryBadInput, OutboundErrorConfigInvalid)
	if len(metadata) > 0 {
		err.WithMetadata(RedactSensitiveMap(metadata))
	}
	return err
}

func IsConfigError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == OutboundErrorConfigInvalid
}

func badInputError(message string) *goerrors.Error {
	return newOutboundError(message, goerrors.CategoryBadInput, OutboundErrorBadInput)
}

func internalError(source error, message string) *goerrors.Error {
	if source == nil {
		return newOutboundError(message, goerrors.CategoryInternal, OutboundErrorInternal)
	}
	return ensureOutboundErrorEnvelope(
		goerrors.Wrap(source, goerrors.CategoryInternal, message).
			WithTextCode(OutboundErrorInternal),
	)
}

func newOutboundError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureOutboundErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureOutboundErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = outboundHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultOutboundTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultOutboundTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return OutboundErrorBadInput
	case goerrors.CategoryNotFound:
		return OutboundErrorNotFound
	case goerrors.CategoryConflict:
		return OutboundErrorInvalidTransition
	case goerrors.CategoryExternal:
		return OutboundErrorTransportFailed
	default:
		return OutboundErrorInternal
	}
}

func outboundHTTPStatus(category goerrors.Category) int {
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
