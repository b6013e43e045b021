// Package errors defines the application error taxonomy shared by the
// routers, state machines and transports.
//
// Every failure that reaches a client carries a Code. HTTP handlers map the
// code to a status, socket handlers forward it in an "error" event.
//
//	if errors.Is(err, apperr.ErrChatNotFound) {
//	    // chat vanished between lookup and mutation
//	}
package errors

import (
	stderrors "errors"
	"fmt"
)

type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeValidation        Code = "VALIDATION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeKey               Code = "KEY_ERROR"
	CodeCrypto            Code = "CRYPTO_ERROR"
	CodeConflict          Code = "CONCURRENCY_CONFLICT"
	CodeAdminMustReassign Code = "ADMIN_MUST_REASSIGN"
	CodeInternal          Code = "INTERNAL"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches on code, and on message when the target carries one, so that
// sentinels survive Wrap.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error { return New(CodeValidation, msg) }

func NotFound(msg string) error { return New(CodeNotFound, msg) }

func Forbidden(msg string) error { return New(CodeForbidden, msg) }

func Unauthenticated(msg string) error { return New(CodeUnauthenticated, msg) }

func Internal(msg string) error { return New(CodeInternal, msg) }

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// MessageOf returns a client-safe message. Causes are never exposed.
func MessageOf(err error) string {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
