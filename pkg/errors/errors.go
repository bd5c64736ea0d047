package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrBadRequest    = errors.New("bad request")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrStorage       = errors.New("storage error")
	ErrDelivery      = errors.New("channel delivery failed")
	ErrAuthFailure   = errors.New("authentication failed")
	ErrAccessDenied  = errors.New("access denied")
	ErrMessageAuthor = errors.New("only the author can modify this message")

	ErrConversationClosed = errors.New("conversation closed")
)

var (
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("message %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
)

// Ошибки аутентификации оборачивают ErrAuthFailure.
var (
	ErrMissingCredential = fmt.Errorf("%w: missing credential", ErrAuthFailure)
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", ErrAuthFailure)
	ErrUnknownSubject    = fmt.Errorf("%w: unknown subject", ErrAuthFailure)
)

// StorageError - сбой хранилища при выполнении операции Op.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError оборачивает ошибку хранилища. Ошибки домена (not found, закрытая беседа) не оборачиваются.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConversationClosed) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ChannelDeliveryError - сбой доставки по одному каналу одному получателю.
type ChannelDeliveryError struct {
	Channel string
	UserID  uuid.UUID
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s to %s: %v", e.Channel, e.UserID, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error {
	return e.Err
}

func (e *ChannelDeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

func HTTPStatusFromError(err error) int {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAuthFailure), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrForbidden), errors.Is(err, ErrMessageAuthor):
		return http.StatusForbidden
	case errors.Is(err, ErrConversationClosed):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ReasonCode возвращает машинно-читаемый код причины для websocket-события error.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrMessageAuthor), errors.Is(err, ErrForbidden):
		return "access_denied"
	case errors.Is(err, ErrConversationClosed):
		return "conversation_closed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrBadRequest):
		return "invalid_payload"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "internal_error"
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
