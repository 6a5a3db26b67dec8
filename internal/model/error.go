package model

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindNotFound       ErrorKind = "not_found"
	KindDecryption     ErrorKind = "decryption"
	KindConflict       ErrorKind = "conflict"
	KindRateLimited    ErrorKind = "rate_limited"
	KindInternal       ErrorKind = "internal"
)

var ErrorUserNotFound = errors.New("user not found")
var ErrorMessageNotFound = errors.New("message not found")

// Error carries a stable kind and a message that is safe to show to callers.
// Err holds the underlying cause and is never rendered.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

func Authentication(message string, err error) error {
	return &Error{Kind: KindAuthentication, Message: message, Err: err}
}

func Authorization(message string) error {
	return &Error{Kind: KindAuthorization, Message: message}
}

func NotFound(message string, err error) error {
	return &Error{Kind: KindNotFound, Message: message, Err: err}
}

func Internal(message string, err error) error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the kind of err, or KindInternal for errors that carry none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func Conflict(message string, err error) error {
	return &Error{Kind: KindConflict, Message: message, Err: err}
}
