// Package errdefs defines the error kinds shared by the hook engine and the
// plugin sequencer.
package errdefs

import (
	"errors"
	"strings"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrDependency     = errors.New("dependency error")
	ErrInitialization = errors.New("initialization error")
	ErrFetch          = errors.New("fetch error")
)

// Error carries the kind of failure and the subject it concerns. Subject is
// a hook path, module id or URL; Modules names every module involved.
type Error struct {
	Kind    error
	Subject string
	Modules []string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Subject != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Subject)
		sb.WriteString("]")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if len(e.Modules) > 0 {
		sb.WriteString(" (modules: ")
		sb.WriteString(strings.Join(e.Modules, ", "))
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func Configuration(subject, message string) *Error {
	return &Error{Kind: ErrConfiguration, Subject: subject, Message: message}
}

func Dependency(message string, modules []string) *Error {
	return &Error{Kind: ErrDependency, Message: message, Modules: modules}
}

func Initialization(module, message string, cause error) *Error {
	return &Error{Kind: ErrInitialization, Subject: module, Modules: []string{module}, Message: message, Cause: cause}
}

func Fetch(url string, cause error) *Error {
	return &Error{Kind: ErrFetch, Subject: url, Cause: cause}
}

func IsConfiguration(err error) bool  { return errors.Is(err, ErrConfiguration) }
func IsDependency(err error) bool     { return errors.Is(err, ErrDependency) }
func IsInitialization(err error) bool { return errors.Is(err, ErrInitialization) }
func IsFetch(err error) bool          { return errors.Is(err, ErrFetch) }

// As returns the *Error in err's chain, if any.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
