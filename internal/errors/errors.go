// Package errors provides structured error handling for portscan operations.
// It defines error codes, the error kinds produced by each stage of a scan
// (configuration, execution, parsing, storage) and helpers for inspecting
// wrapped errors.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Scanning errors.
	CodeExecution     ErrorCode = "EXECUTION"
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"
	CodeParse         ErrorCode = "PARSE"
	CodeUnavailable   ErrorCode = "UNAVAILABLE"

	// Storage errors.
	CodeStorage   ErrorCode = "STORAGE"
	CodeMigration ErrorCode = "MIGRATION"
	CodeNotFound  ErrorCode = "NOT_FOUND"
)

// ScanError represents an error raised while running the external scanner.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOperation records which step of the scan failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	e := NewScanError(code, message)
	e.Target = target
	return e
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	e := NewScanError(code, message)
	e.Cause = err
	return e
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	e := WrapScanError(code, message, err)
	e.Target = target
	return e
}

// ParseError represents a malformed or unreadable scanner result document.
type ParseError struct {
	Code    ErrorCode
	Message string
	Source  string
	Cause   error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Source != "" {
		msg = fmt.Sprintf("%s (source: %s)", msg, e.Source)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a parse error for the given source.
func NewParseError(message, source string) *ParseError {
	return &ParseError{
		Code:    CodeParse,
		Message: message,
		Source:  source,
	}
}

// WrapParseError wraps a decoding failure as a parse error.
func WrapParseError(message, source string, err error) *ParseError {
	e := NewParseError(message, source)
	e.Cause = err
	return e
}

// StoreError represents report storage errors.
type StoreError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation: %s)", msg, e.Operation)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *StoreError) WithQuery(query string) *StoreError {
	e.Query = query
	return e
}

// WrapStoreError wraps a database error for the named operation.
func WrapStoreError(code ErrorCode, operation string, err error) *StoreError {
	return &StoreError{
		Code:      code,
		Message:   "report store operation failed",
		Operation: operation,
		Cause:     err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field: %s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// GetCode extracts the error code from the first coded error in err's chain.
func GetCode(err error) ErrorCode {
	var (
		scanErr   *ScanError
		parseErr  *ParseError
		storeErr  *StoreError
		configErr *ConfigError
	)
	switch {
	case err == nil:
		return CodeUnknown
	case stderrors.As(err, &scanErr):
		return scanErr.Code
	case stderrors.As(err, &parseErr):
		return parseErr.Code
	case stderrors.As(err, &storeErr):
		return storeErr.Code
	case stderrors.As(err, &configErr):
		return configErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeExecution:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodePermission, CodeConfiguration, CodeValidation, CodeMigration:
		return true
	default:
		return false
	}
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "invalid target specification", target)
}

// ErrScanTimeout creates an error for scans that outlived their deadline.
func ErrScanTimeout(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeTimeout, "scan operation timed out", target, err)
}

// ErrScanCanceled creates an error for scans canceled by the caller.
func ErrScanCanceled(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeCanceled, "scan operation canceled", target, err)
}

// ErrExecution creates an error for scanner launch or exit failures.
func ErrExecution(target, message string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeExecution, message, target, err)
}

// ErrInvalidPortSpec creates an error for a port specification token that cannot be parsed.
func ErrInvalidPortSpec(token string, err error) *ConfigError {
	e := NewConfigFieldError(CodeConfiguration, "invalid port specification", "ports", token)
	e.Cause = err
	return e
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "required configuration field missing", field, nil)
}

// ErrReportNotFound creates an error for a report id missing from the store.
func ErrReportNotFound(id string) *StoreError {
	return &StoreError{
		Code:      CodeNotFound,
		Message:   fmt.Sprintf("report %s not found", id),
		Operation: "get_report",
	}
}
