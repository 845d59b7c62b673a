package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure for callers that need to map it onto a
// transport status or a user-facing message.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindUnavailable  ErrorKind = "unavailable"
	KindIntegrity    ErrorKind = "integrity"
	KindCryptoConfig ErrorKind = "crypto_config"
	KindAccessDenied ErrorKind = "access_denied"
	KindStorageIO    ErrorKind = "storage_io"
	KindValidation   ErrorKind = "validation"
	KindInternal     ErrorKind = "internal"
)

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrChainConflict = errors.New("audit chain head moved")

	// Document lifecycle.
	ErrDocumentUnavailable = errors.New("document unavailable")

	// Crypto and integrity.
	ErrIntegrity    = errors.New("integrity check failed")
	ErrCryptoConfig = errors.New("crypto configuration error")

	// Grant validation, in precedence order after ErrInvalidToken.
	ErrInvalidToken  = errors.New("invalid token")
	ErrGrantRevoked  = errors.New("access revoked")
	ErrGrantExpired  = errors.New("access expired")
	ErrQuotaExceeded = errors.New("download limit reached")
	ErrRateLimited   = errors.New("too many requests")

	ErrPermissionDenied = errors.New("permission denied")

	ErrStorageIO  = errors.New("storage i/o error")
	ErrValidation = errors.New("validation error")
	ErrorInternal = errors.New("internal error")
)

var sentinelKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrorNotFound, KindNotFound},
	{ErrDocumentUnavailable, KindUnavailable},
	{ErrIntegrity, KindIntegrity},
	{ErrCryptoConfig, KindCryptoConfig},
	{ErrInvalidToken, KindAccessDenied},
	{ErrGrantRevoked, KindAccessDenied},
	{ErrGrantExpired, KindAccessDenied},
	{ErrQuotaExceeded, KindAccessDenied},
	{ErrRateLimited, KindAccessDenied},
	{ErrPermissionDenied, KindAccessDenied},
	{ErrStorageIO, KindStorageIO},
	{ErrValidation, KindValidation},
	{ErrChainConflict, KindInternal},
}

// VaultError is the typed failure returned by every orchestration-level
// operation. Err always wraps one of the sentinels above, so errors.Is keeps
// working through it.
type VaultError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *VaultError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *VaultError) Unwrap() error { return e.Err }

// Wrap builds a VaultError for op. sentinel selects the kind; cause, when not
// nil, is chained after it for logging.
func Wrap(op string, sentinel error, cause error) *VaultError {
	err := sentinel
	if cause != nil && !errors.Is(cause, sentinel) {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	} else if cause != nil {
		err = cause
	}
	return &VaultError{Op: op, Kind: KindOf(sentinel), Err: err}
}

// KindOf reports the kind of err. Errors that match no sentinel are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ve *VaultError
	if errors.As(err, &ve) && ve.Kind != "" {
		return ve.Kind
	}
	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindInternal
}

// PublicMessage returns a message safe to show to an external caller.
// Integrity, crypto configuration and storage failures collapse into one
// opaque text; access denial reasons describe grant state and are kept.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case "":
		return ""
	case KindNotFound:
		return ErrorNotFound.Error()
	case KindUnavailable:
		return ErrDocumentUnavailable.Error()
	case KindAccessDenied:
		for _, s := range []error{ErrInvalidToken, ErrGrantRevoked, ErrGrantExpired, ErrQuotaExceeded, ErrRateLimited, ErrPermissionDenied} {
			if errors.Is(err, s) {
				return s.Error()
			}
		}
		return "access denied"
	case KindValidation:
		var ve *VaultError
		if errors.As(err, &ve) {
			return ve.Err.Error()
		}
		return ErrValidation.Error()
	default:
		return "document could not be processed"
	}
}

// HTTPStatus maps err onto the status code an API layer should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusGone
	case KindAccessDenied:
		if errors.Is(err, ErrInvalidToken) {
			return http.StatusNotFound
		}
		if errors.Is(err, ErrRateLimited) {
			return http.StatusTooManyRequests
		}
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindStorageIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
