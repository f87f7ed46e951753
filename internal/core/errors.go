package core

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Error is the failure type returned by every Core and Executor operation.
//
// It carries the SQL that failed and, when the engine produced the failure,
// SQLite's primary and extended result codes.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed ("query", "execute", "transaction", ...).
	Op string

	// SQL is the statement text, when there is one.
	SQL string

	// EngineCode and ExtendedCode are SQLite's result codes, zero when the
	// failure did not come from the engine.
	EngineCode   sqlite3.ErrNo
	ExtendedCode sqlite3.ErrNoExtended

	// Err is the underlying error.
	Err error
}

// ErrorCode categorizes failures.
type ErrorCode string

const (
	// ErrCodeOpenFailure indicates the database could not be opened or configured.
	ErrCodeOpenFailure ErrorCode = "OPEN_FAILURE"

	// ErrCodePathConflict indicates the path is already open in this process.
	ErrCodePathConflict ErrorCode = "PATH_CONFLICT"

	// ErrCodePrepareFailure indicates SQL that failed to compile.
	ErrCodePrepareFailure ErrorCode = "PREPARE_FAILURE"

	// ErrCodeBindFailure indicates an argument that could not be bound.
	ErrCodeBindFailure ErrorCode = "BIND_FAILURE"

	// ErrCodeUnknownParameter indicates a named argument with no matching
	// placeholder. It is a kind of bind failure.
	ErrCodeUnknownParameter ErrorCode = "UNKNOWN_PARAMETER"

	// ErrCodeExecutionFailure indicates a step, reset or savepoint failure.
	ErrCodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"

	// ErrCodeResultDecoding indicates a column value with an unexpected type.
	ErrCodeResultDecoding ErrorCode = "RESULT_DECODING"

	// ErrCodeClosed indicates use of a closed database.
	ErrCodeClosed ErrorCode = "CLOSED"

	// ErrCodeReentrant indicates an Executor method called from inside one of
	// that Executor's own actions, which would otherwise deadlock.
	ErrCodeReentrant ErrorCode = "REENTRANT_CALL"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.EngineCode != 0 {
		msg += fmt.Sprintf(" (sqlite %d/%d)", int(e.EngineCode), int(e.ExtendedCode))
	}
	if e.SQL != "" {
		msg += fmt.Sprintf(" [sql: %s]", e.SQL)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is, or wraps, an *Error with the given code.
// ErrCodeBindFailure also matches ErrCodeUnknownParameter.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Code == code {
		return true
	}
	return code == ErrCodeBindFailure && e.Code == ErrCodeUnknownParameter
}

// IsClosed reports whether err came from using a closed database.
func IsClosed(err error) bool {
	return IsCode(err, ErrCodeClosed)
}

// newError builds an *Error, lifting SQLite result codes out of err.
func newError(code ErrorCode, op, sqlText string, err error) *Error {
	e := &Error{Code: code, Op: op, SQL: sqlText, Err: err}
	var se sqlite3.Error
	if errors.As(err, &se) {
		e.EngineCode = se.Code
		e.ExtendedCode = se.ExtendedCode
	}
	return e
}

func closedError(op string) *Error {
	return &Error{Code: ErrCodeClosed, Op: op, Err: errors.New("database is closed")}
}

// NewPathConflictError reports that path is already open in this process.
func NewPathConflictError(path string) *Error {
	return &Error{
		Code: ErrCodePathConflict,
		Op:   "open",
		Err:  fmt.Errorf("%s is already open", path),
	}
}
