package model

import (
	"errors"
	"fmt"
)

// Kind is the machine tag of a domain error. Front-ends localise by Kind.
type Kind string

const (
	KindNotAvailable      Kind = "not_available"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindAlreadyExists     Kind = "already_exists"
	KindNotFound          Kind = "not_found"
	KindPaymentFailed     Kind = "payment_failed"
	KindPaymentExpired    Kind = "payment_expired"
	KindAccountUnhealthy  Kind = "account_unhealthy"
	KindForbidden         Kind = "forbidden"
	KindTransientStore    Kind = "transient_store"
	KindInvalid           Kind = "invalid_argument"
)

// Sentinels for errors.Is. Any *Error of the same Kind matches them.
var (
	ErrNotAvailable      = &Error{Kind: KindNotAvailable, Message: "number is not available"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists, Message: "already exists"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrPaymentFailed     = &Error{Kind: KindPaymentFailed, Message: "payment failed"}
	ErrPaymentExpired    = &Error{Kind: KindPaymentExpired, Message: "payment expired"}
	ErrAccountUnhealthy  = &Error{Kind: KindAccountUnhealthy, Message: "account is unhealthy"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "administrator role required"}
	ErrTransientStore    = &Error{Kind: KindTransientStore, Message: "store temporarily unavailable"}
	ErrInvalid           = &Error{Kind: KindInvalid, Message: "invalid argument"}
)

// Error is a domain error: a tag, a human message and structured params.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Params  map[string]any `json:"params,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so callers can write errors.Is(err, model.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// With returns a copy carrying one more param.
func (e *Error) With(key string, value any) *Error {
	params := make(map[string]any, len(e.Params)+1)
	for k, v := range e.Params {
		params[k] = v
	}
	params[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Params: params, Cause: e.Cause}
}

func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotAvailable(message string) *Error {
	return NewError(KindNotAvailable, message, nil)
}

func NotFound(entity string, id any) *Error {
	return NewError(KindNotFound, entity+" not found", nil).With("entity", entity).With("id", id)
}

func AlreadyExists(entity string, key any) *Error {
	return NewError(KindAlreadyExists, entity+" already exists", nil).With("entity", entity).With("key", key)
}

func InsufficientFunds(currency Currency, have, need string) *Error {
	return NewError(KindInsufficientFunds, "insufficient funds", nil).
		With("currency", string(currency)).
		With("balance", have).
		With("amount", need)
}

func AccountUnhealthy(phone string, reason string) *Error {
	return NewError(KindAccountUnhealthy, "account cannot back a listing: "+reason, nil).With("phone", phone)
}

func PaymentFailed(paymentID string, reason string) *Error {
	return NewError(KindPaymentFailed, reason, nil).With("payment_id", paymentID)
}

func PaymentExpired(paymentID string) *Error {
	return NewError(KindPaymentExpired, "payment deadline reached", nil).With("payment_id", paymentID)
}

func Forbidden(userID int64) *Error {
	return NewError(KindForbidden, "administrator role required", nil).With("user_id", userID)
}

func Transient(cause error) *Error {
	return NewError(KindTransientStore, "store temporarily unavailable", cause)
}

func Invalid(message string) *Error {
	return NewError(KindInvalid, message, nil)
}

// KindOf returns the Kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
