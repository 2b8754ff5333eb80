// Package errcode defines the stable error taxonomy of the query service.
// Every failure surfaced to a caller carries one of these codes; the HTTP
// layer maps codes to status classes without inspecting error text.
package errcode

import (
	"errors"
	"fmt"
)

type Code string

const (
	InvalidQueryRequest       Code = "INVALID_QUERY_REQUEST"
	InvalidParameters         Code = "INVALID_PARAMETERS"
	ParameterValidation       Code = "PARAMETER_VALIDATION_ERROR"
	LikeDoubleWildcard        Code = "LIKE_DOUBLE_WILDCARD_NOT_ALLOWED"
	DatasourceNotFound        Code = "DATASOURCE_NOT_FOUND"
	DatabaseConnectionFailure Code = "DATABASE_CONNECTION_FAILURE"
	ConnectionPoolExhausted   Code = "CONNECTION_POOL_EXHAUSTED"
	SQLExecutionError         Code = "SQL_EXECUTION_ERROR"
	QueryExecutionTimeout     Code = "QUERY_EXECUTION_TIMEOUT"
	StreamingError            Code = "STREAMING_ERROR"
	QueueFull                 Code = "QUEUE_FULL"
	RetryExhausted            Code = "RETRY_EXHAUSTED"
	CacheError                Code = "CACHE_ERROR"
	FileExportError           Code = "FILE_EXPORT_ERROR"
	QueryNotFound             Code = "QUERY_NOT_FOUND"
	Unknown                   Code = "UNKNOWN_ERROR"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code carried by err, or Unknown when err carries none.
func CodeOf(err error) Code {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return Unknown
}

func HasCode(err error, code Code) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code == code
	}
	return false
}
