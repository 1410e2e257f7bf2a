package core

import (
	"errors"
	"fmt"
)

var (
	ErrParse                = errors.New("parse error")
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrRequiredFieldMissing = errors.New("required field missing")
	ErrInvalidDescription   = errors.New("invalid description")
	ErrStoreWrite           = errors.New("store write failed")
	ErrStoreRead            = errors.New("store read failed")
	ErrUnauthorized         = errors.New("unauthorized")

	// ErrEmptyInput is a parse failure of the whole input, not of a row.
	ErrEmptyInput = fmt.Errorf("%w: input contains no records", ErrParse)
)

// Kind is the report label of a failure.
type Kind string

const (
	KindParse                Kind = "ParseError"
	KindInvalidDate          Kind = "InvalidDate"
	KindInvalidAmount        Kind = "InvalidAmount"
	KindRequiredFieldMissing Kind = "RequiredFieldMissing"
	KindInvalidDescription   Kind = "InvalidDescription"
	KindStoreWrite           Kind = "StoreWriteError"
	KindStoreRead            Kind = "StoreReadError"
	KindUnauthorized         Kind = "Unauthorized"
	KindUnknown              Kind = "Unknown"
)

// KindOf classifies err against the sentinel errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidDate):
		return KindInvalidDate
	case errors.Is(err, ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ErrRequiredFieldMissing):
		return KindRequiredFieldMissing
	case errors.Is(err, ErrInvalidDescription):
		return KindInvalidDescription
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrStoreWrite):
		return KindStoreWrite
	case errors.Is(err, ErrStoreRead):
		return KindStoreRead
	default:
		return KindUnknown
	}
}

// FieldError is a row-scoped failure tied to one canonical field.
type FieldError struct {
	Field Field
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// FieldOf returns the field a failure is attributed to, if any.
func FieldOf(err error) Field {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}
