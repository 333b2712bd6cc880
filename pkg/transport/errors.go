package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure so callers can decide whether a retry
// is sensible. Nothing in this package retries on its own.
type Kind string

const (
	// KindNetwork covers connectivity failures and 5xx responses. Safe for
	// the caller to retry, except SendMessage which must surface instead.
	KindNetwork Kind = "network"
	// KindAuthorization covers 401/403. Fatal to the session.
	KindAuthorization Kind = "authorization"
	// KindValidation covers 400/413/422 payload rejections.
	KindValidation Kind = "validation"
	// KindRateLimited covers 429.
	KindRateLimited Kind = "rate_limited"
)

// Error is the failure type returned by every Client method.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("transport %s: %s (%d): %s", e.Op, e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("transport %s: %s (%d)", e.Op, e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind, or "" for non-transport errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func IsNetwork(err error) bool       { return KindOf(err) == KindNetwork }
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }
func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
func IsRateLimited(err error) bool   { return KindOf(err) == KindRateLimited }

// classifyStatus maps an HTTP status to a failure kind. Statuses under 300
// are not failures and must not reach this.
func classifyStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuthorization
	case status == 429:
		return KindRateLimited
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindNetwork
	}
}
