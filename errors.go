package guard

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrRecordNotFound is returned by stores for an absent key. The Guard
	// never surfaces it: absent records read as zero usage.
	ErrRecordNotFound = errors.New("guard: usage record not found")

	ErrInvalidInput   = errors.New("guard: invalid input")
	ErrStoreNotReady  = errors.New("guard: store not ready")
	ErrStoreClosed    = errors.New("guard: store is closed")
	ErrResolverFailed = errors.New("guard: limit resolution failed")

	// ErrCounterOverflow is returned by stores when an increment would
	// exceed the int64 range. The record is left unchanged.
	ErrCounterOverflow = errors.New("guard: usage counter overflow")
)

// Kind classifies an error for callers that branch on failure type.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ValidationError is a rejected argument. No state was changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("guard: validation failed for %s: %s", e.Field, e.Message)
}

// Kind returns KindValidation.
func (e ValidationError) Kind() Kind { return KindValidation }

// Is lets errors.Is(err, ErrInvalidInput) match any ValidationError.
func (e ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// UnavailableError is a storage or policy backend failure.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("guard: %s unavailable: %v", e.Op, e.Err)
}

// Unwrap returns the backend error.
func (e *UnavailableError) Unwrap() error { return e.Err }

// Kind returns KindUnavailable.
func (e *UnavailableError) Kind() Kind { return KindUnavailable }

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }

// IsRetryable reports whether the operation may succeed if retried.
// Guard never retries internally.
func IsRetryable(err error) bool {
	return IsUnavailable(err) ||
		errors.Is(err, ErrStoreNotReady)
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}
