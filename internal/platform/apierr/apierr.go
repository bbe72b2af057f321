package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an error for callers deciding whether to retry.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindScopeResolution        Kind = "scope_resolution"
	KindUnsupportedFilterField Kind = "unsupported_filter_field"
	KindUnsupportedOperator    Kind = "unsupported_operator"
	KindTransientProvider      Kind = "transient_provider"
	KindPermanentProvider      Kind = "permanent_provider"
	KindConflict               Kind = "conflict"
	KindStorageTimeout         Kind = "storage_timeout"
	KindNotFound               Kind = "not_found"
	KindInternal               Kind = "internal"
)

type Error struct {
	Kind   Kind
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Kind: kindForStatus(status), Status: status, Code: code, Err: err}
}

// Wrap attaches kind to err. The HTTP status is derived from the kind.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Status: HTTPStatus(kind), Code: code, Err: err}
}

func newf(kind Kind, code string, format string, args ...any) *Error {
	return Wrap(kind, code, fmt.Errorf(format, args...))
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, "validation_error", format, args...)
}

func ScopeResolution(format string, args ...any) *Error {
	return newf(KindScopeResolution, "scope_resolution_error", format, args...)
}

func UnsupportedFilterField(kind, field string) *Error {
	return newf(KindUnsupportedFilterField, "unsupported_filter_field", "field %q is not filterable for %s", field, kind)
}

func UnsupportedOperator(field, op string) *Error {
	return newf(KindUnsupportedOperator, "unsupported_operator", "operator %q is not supported for field %q", op, field)
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, "conflict", format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, "not_found", format, args...)
}

func StorageTimeout(err error) *Error {
	return Wrap(KindStorageTimeout, "storage_timeout", err)
}

func TransientProvider(err error) *Error {
	return Wrap(KindTransientProvider, "transient_provider_error", err)
}

func PermanentProvider(err error) *Error {
	return Wrap(KindPermanentProvider, "permanent_provider_error", err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != "" {
		return ae.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the machine-readable code for err.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	return string(KindOf(err))
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindScopeResolution, KindUnsupportedFilterField, KindUnsupportedOperator:
		return http.StatusBadRequest
	case KindTransientProvider, KindPermanentProvider:
		return http.StatusBadGateway
	case KindConflict:
		return http.StatusConflict
	case KindStorageTimeout:
		return http.StatusGatewayTimeout
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusGatewayTimeout:
		return KindStorageTimeout
	default:
		return KindInternal
	}
}

// pgQueryCanceled is raised when statement_timeout fires or the query is cancelled.
const pgQueryCanceled = "57014"

// FromStorage reclassifies deadline and cancellation failures from the database as
// storage timeouts so callers can tell "retry" apart from "no rows". Other errors pass through.
func FromStorage(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StorageTimeout(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled {
		return StorageTimeout(err)
	}
	return err
}
