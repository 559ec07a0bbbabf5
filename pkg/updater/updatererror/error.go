package updatererror

import (
	"errors"
	"fmt"
)

// UpdaterError pairs one of the error kinds below with the error that caused it.
// errors.Is matches both the kind and anything in the cause chain.
type UpdaterError struct {
	kind  error
	cause error
}

func (u UpdaterError) Error() string {
	if u.cause == nil {
		return u.kind.Error()
	}
	return fmt.Sprintf("%s: %s", u.kind.Error(), u.cause.Error())
}

// Unwrap exposes the kind and the cause to errors.Is and errors.As.
func (u UpdaterError) Unwrap() []error {
	if u.cause == nil {
		return []error{u.kind}
	}
	return []error{u.kind, u.cause}
}

// Kind returns the error kind.
func (u UpdaterError) Kind() error {
	return u.kind
}

// New wraps cause with kind. A nil cause is allowed.
func New(kind error, cause error) error {
	return UpdaterError{
		kind:  kind,
		cause: cause,
	}
}

// Newf wraps a formatted message with kind.
func Newf(kind error, format string, args ...any) error {
	return New(kind, fmt.Errorf(format, args...))
}

// KindOf returns the kind of err, or nil if err is not an UpdaterError.
func KindOf(err error) error {
	var u UpdaterError
	if errors.As(err, &u) {
		return u.kind
	}
	return nil
}

//nolint:golint,gochecknoglobals // errors.New() is not const
var (
	ErrNotFound          = errors.New("state not found")
	ErrIO                = errors.New("io error")
	ErrDeserialize       = errors.New("failed to deserialize state")
	ErrMalformedResponse = errors.New("malformed patch check response")
	ErrDownload          = errors.New("failed to download patch")
	ErrIntegrity         = errors.New("patch integrity check failed")
	ErrNoCurrentPatch    = errors.New("no current patch")
	ErrEmptySlot         = errors.New("slot holds no patch")
)
