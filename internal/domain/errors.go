package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
	ErrStateConflict     = errors.New("state conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLockHeld          = errors.New("lock already held")
	ErrUpstream          = errors.New("upstream failure")
	ErrAlreadySettled    = errors.New("already settled on-chain")
)

// RuleError is a rejected operation with a stable machine-readable code.
// Kind is one of the sentinels above and decides the HTTP status.
type RuleError struct {
	Code   string
	Detail string
	Kind   error
}

func (e *RuleError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *RuleError) Unwrap() error { return e.Kind }

// Reject builds a RuleError.
func Reject(kind error, code, detail string) error {
	return &RuleError{Code: code, Detail: detail, Kind: kind}
}

// CodeOf extracts the rule code from err, or "" if err carries none.
func CodeOf(err error) string {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
