// Package types provides shared types, interfaces, and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Script URL errors
	ErrMalformedURL = errors.New("malformed SDK script URL")

	// Client configuration errors
	ErrConfigurationNotFound = errors.New("configuration not found")

	// Script loading errors
	ErrScriptLoad         = errors.New("script failed to load")
	ErrEntryPointMissing  = errors.New("component entry point missing after script load")
	ErrNotThenable        = errors.New("value is not a thenable")
	ErrComponentNotFound  = errors.New("component not registered")
	ErrRealmClosed        = errors.New("page realm is closed")
	ErrNoReply            = errors.New("no reply received")
	ErrProfileInvalid     = errors.New("invalid SDK profile")
	ErrUnsupportedBrowser = errors.New("browser could not be launched")
)

// MalformedURLError reports a script URL that identity derivation cannot parse.
// It implements the error interface and supports error unwrapping.
type MalformedURLError struct {
	URL    string // The offending URL
	Reason string // Which part of the URL is missing
}

// Error implements the error interface.
func (e *MalformedURLError) Error() string {
	return "malformed SDK script URL " + e.URL + ": " + e.Reason
}

// Unwrap returns ErrMalformedURL for errors.Is support.
func (e *MalformedURLError) Unwrap() error {
	return ErrMalformedURL
}

// NewMalformedURLError creates an error for an unparseable script URL.
func NewMalformedURLError(url, reason string) *MalformedURLError {
	return &MalformedURLError{URL: url, Reason: reason}
}

// ScriptLoadError provides detailed information about script loading failures.
type ScriptLoadError struct {
	URL string // The script that failed
	Err error  // Underlying network or execution error
}

// Error implements the error interface.
func (e *ScriptLoadError) Error() string {
	if e.Err == nil {
		return "failed to load script " + e.URL
	}
	return "failed to load script " + e.URL + ": " + e.Err.Error()
}

// Unwrap exposes both ErrScriptLoad and the underlying cause.
func (e *ScriptLoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrScriptLoad}
	}
	return []error{ErrScriptLoad, e.Err}
}

// NewScriptLoadError creates an error for a failed script load.
func NewScriptLoadError(url string, err error) *ScriptLoadError {
	return &ScriptLoadError{URL: url, Err: err}
}
