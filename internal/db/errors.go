package db

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
)

// Kind is the category a failure is reported under.
type Kind int

const (
	KindGeneral Kind = iota
	KindDatabaseLayer
	KindAuthentication
	KindDatabaseNotFound
	KindServerUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindDatabaseLayer:
		return "database_error"
	case KindAuthentication:
		return "authentication"
	case KindDatabaseNotFound:
		return "database_not_found"
	case KindServerUnreachable:
		return "server_unreachable"
	default:
		return "general"
	}
}

var (
	// ErrNoDescriptor is returned when an environment has no registered descriptor.
	ErrNoDescriptor = errors.New("no descriptor registered")

	ErrUnknownDriver = errors.New("unknown driver")
)

// Error is a classified failure. Code is the driver's own code (a SQL Server
// error number, a SQLSTATE, ...) when one was reported.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message()
}

// Message is the raw message reported by the failing layer.
func (e *Error) Message() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of a classified error, or KindGeneral.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneral
}

// Classify maps err onto the failure taxonomy using structured codes only.
// Driver codes win, then network failures, then generic driver sentinels.
// d may be nil when the driver could not be resolved.
func Classify(d Driver, err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	kind, code, fromDriver := KindGeneral, "", false
	if d != nil {
		kind, code, fromDriver = d.Classify(err)
	}
	if fromDriver && kind != KindDatabaseLayer {
		return &Error{Kind: kind, Code: code, Err: err}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return &Error{Kind: KindServerUnreachable, Code: code, Err: err}
	}
	if fromDriver || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &Error{Kind: KindDatabaseLayer, Code: code, Err: err}
	}
	return &Error{Kind: KindGeneral, Err: err}
}
