package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and transport decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindUnknownProvider
	KindConflict
	// KindTransient covers serialization conflicts, deadlocks, timeouts and
	// dropped connections. Only this kind is retried.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindUnknownProvider:
		return "unknown_provider"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

const (
	CodeMissingInput    = "MISSING_INPUT"
	CodeUserNotFound    = "USER_NOT_FOUND"
	CodeUnknownProvider = "UNKNOWN_PROVIDER"
	CodeInvalidFilter   = "INVALID_FILTER"
	CodeInvalidReferral = "INVALID_REFERRAL_CODE"
	CodeStoreTransient  = "STORE_TRANSIENT"
	CodeStoreConstraint = "STORE_CONSTRAINT"
	CodeStoreFailure    = "STORE_FAILURE"
	CodeQueueFull       = "ADMISSION_QUEUE_FULL"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
