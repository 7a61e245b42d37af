package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may succeed on a later attempt
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind identifies which transcoding stage produced an error.
type Kind int

const (
	// KindUnknown is used for errors raised outside the transcoding stages
	KindUnknown Kind = iota
	// KindParse means the input violates the grammar of its format
	KindParse
	// KindConversion means a valid native record could not be projected or lowered
	KindConversion
	// KindIO means reading the input or writing the output failed
	KindIO
	// KindEmptyUnit marks an absent unit; it is skipped, never reported
	KindEmptyUnit
)

// String returns the failure-record name of the kind
func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindConversion:
		return "ConversionError"
	case KindIO:
		return "IOError"
	case KindEmptyUnit:
		return "EmptyUnitError"
	default:
		return "UnknownError"
	}
}

// Standard error variables for common conditions
var (
	// Data processing errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrDataCorrupted = errors.New("data corrupted")
	ErrParsingFailed = errors.New("parsing failed")
	ErrEmptyUnit     = errors.New("empty input unit")
	ErrTruncated     = errors.New("unexpected end of input")

	// Connection and storage errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resource errors
	ErrResourceExhausted = errors.New("resource exhausted")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Kind      Kind
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"temporary",
		"unavailable",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrResourceExhausted)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrDataCorrupted) ||
		errors.Is(err, ErrTruncated)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	return ErrorTransient
}

// KindOf returns the transcoding kind of the outermost classified error in the chain.
// Unclassified errors report KindUnknown, except ErrEmptyUnit.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Kind != KindUnknown {
		return ce.Kind
	}
	if errors.Is(err, ErrEmptyUnit) {
		return KindEmptyUnit
	}
	return KindUnknown
}

// RootCause follows the Unwrap chain to the innermost error.
// Joined errors are followed through their first member.
func RootCause(err error) error {
	for err != nil {
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			next := x.Unwrap()
			if next == nil {
				return err
			}
			err = next
		case interface{ Unwrap() []error }:
			errs := x.Unwrap()
			if len(errs) == 0 {
				return err
			}
			err = errs[0]
		default:
			return err
		}
	}
	return nil
}

func newClassified(class ErrorClass, kind Kind, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Kind:      kind,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, kind Kind, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(class, kind, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, KindUnknown, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, KindUnknown, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, KindUnknown, err, component, method, action)
}

// WrapParse marks a grammar violation in the input.
func WrapParse(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, KindParse, err, component, method, action)
}

// WrapConversion marks a native record that cannot be expressed as markup or lowered.
func WrapConversion(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, KindConversion, err, component, method, action)
}

// WrapIO marks a stream read or write failure.
func WrapIO(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, KindIO, err, component, method, action)
}
