package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells callers how to react to an error.
type ErrorClass int

const (
	ErrorTransient ErrorClass = iota // retry later
	ErrorInvalid                     // the caller or operator must fix the input
	ErrorFatal                       // stop; continuing could destroy state
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	}
	return "unknown"
}

var (
	ErrAlreadyStarted = errors.New("component already started")

	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrKeyNotFound        = errors.New("key not found")

	ErrInvalidData   = errors.New("invalid data format")
	ErrDataCorrupted = errors.New("data corrupted")
	ErrParsingFailed = errors.New("parsing failed")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// A stored root CA that cannot be used must never be replaced silently:
	// every certificate issued from it would stop validating.
	ErrRootCAIncomplete = errors.New("root CA certificate and key must both be present")
	ErrRootCAMismatch   = errors.New("root CA certificate and key do not match")

	ErrNotInitialized   = errors.New("certificate manager not initialized")
	ErrUnknownEntity    = errors.New("unknown certificate or key name")
	ErrMissingQualifier = errors.New("scope qualifier required")
	ErrSweepInProgress  = errors.New("certificate check already running")
)

// sentinelClass classifies bare sentinels that were never wrapped with a
// class. Classified wrappers take precedence.
var sentinelClass = []struct {
	err   error
	class ErrorClass
}{
	{ErrRootCAIncomplete, ErrorFatal},
	{ErrRootCAMismatch, ErrorFatal},
	{ErrDataCorrupted, ErrorFatal},
	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},

	{ErrInvalidData, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrUnknownEntity, ErrorInvalid},
	{ErrMissingQualifier, ErrorInvalid},

	{ErrNoConnection, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrStorageUnavailable, ErrorTransient},
	{ErrSweepInProgress, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
}

// transientHints mark unclassified errors from third-party code as retryable.
var transientHints = []string{"timeout", "connection", "temporary", "unavailable"}

// ClassifiedError carries an ErrorClass along with the component and
// operation that produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf returns the class of err and whether one could be determined.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, s := range sentinelClass {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}
	return 0, false
}

// IsTransient reports whether err is worth retrying. Unclassified errors
// whose text mentions a timeout or connection problem count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func IsFatal(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

func IsInvalid(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// Classify returns the class of err. Anything not fatal or invalid is
// treated as transient.
func Classify(err error) ErrorClass {
	if class, ok := classOf(err); ok {
		return class
	}
	return ErrorTransient
}

// Wrap adds context in the form "component.method: action failed: <err>".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient is Wrap plus the transient class.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal is Wrap plus the fatal class.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid is Wrap plus the invalid class.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Is, As and New mirror the standard library so callers need one import.

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func New(text string) error {
	return errors.New(text)
}
