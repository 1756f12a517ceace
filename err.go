/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Common errors
 */

package ippclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OpenPrinting/goipp"
)

// Error values for ipp-client. Any *Error matches exactly one of them
// with errors.Is, according to its Kind
var (
	ErrTransport         = errors.New("Transport error")
	ErrDecode            = errors.New("Malformed IPP message")
	ErrUnsupported       = errors.New("Operation not supported")
	ErrNotFound          = errors.New("Not found")
	ErrInvalidTransition = errors.New("Invalid state transition")
	ErrTimeout           = errors.New("Operation timed out")
	ErrShutdown          = errors.New("Shutdown requested")
	ErrInternal          = errors.New("Internal error")
)

// ErrorKind classifies an *Error
type ErrorKind int

// Error kinds:
//
//	KindTransport         - network or HTTP layer failure, see TransportKind
//	KindDecode            - malformed response
//	KindUnsupported       - printer lacks a requested capability
//	KindNotFound          - printer, job or subscription doesn't exist
//	KindInvalidTransition - action rejected because of current state
//	KindTimeout           - polling/waiting operation exceeded its bound
//	KindShutdown          - operation rejected, Bridge is closed
//	KindInternal          - operation panicked
const (
	KindTransport ErrorKind = iota
	KindDecode
	KindUnsupported
	KindNotFound
	KindInvalidTransition
	KindTimeout
	KindShutdown
	KindInternal
)

// String returns ErrorKind name
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindUnsupported:
		return "unsupported"
	case KindNotFound:
		return "not-found"
	case KindInvalidTransition:
		return "invalid-transition"
	case KindTimeout:
		return "timeout"
	case KindShutdown:
		return "shutdown"
	case KindInternal:
		return "internal"
	}

	return fmt.Sprintf("unknown (%d)", int(k))
}

// TransportKind refines KindTransport errors
type TransportKind int

// Transport error kinds
const (
	TransportNone TransportKind = iota
	TransportTimeout
	TransportConnectionRefused
	TransportTLSFailure
	TransportProtocol
)

// String returns TransportKind name
func (k TransportKind) String() string {
	switch k {
	case TransportNone:
		return "none"
	case TransportTimeout:
		return "timeout"
	case TransportConnectionRefused:
		return "connection-refused"
	case TransportTLSFailure:
		return "tls-failure"
	case TransportProtocol:
		return "protocol"
	}

	return fmt.Sprintf("unknown (%d)", int(k))
}

// Error is the structured error, returned by all public operations
type Error struct {
	Kind       ErrorKind     // Taxonomy kind
	Transport  TransportKind // For KindTransport
	Op         string        // Operation name, i.e. "Get-Jobs"
	URI        string        // Printer or job URI, if known
	Status     goipp.Status  // IPP status, if response was received
	HTTPStatus int           // HTTP status, if response was received
	Err        error         // Underlying error, may be nil
}

// Error implements error interface for the *Error
func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	if e.URI != "" {
		b.WriteString(e.URI)
		b.WriteString(": ")
	}

	b.WriteString(e.Kind.String())
	if e.Kind == KindTransport && e.Transport != TransportNone {
		b.WriteString("/")
		b.WriteString(e.Transport.String())
	}

	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.HTTPStatus)
	}

	if e.Status != 0 {
		fmt.Fprintf(&b, ": %s", e.Status)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel, matching e.Kind
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// sentinel returns sentinel error value for the ErrorKind
func (k ErrorKind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindDecode:
		return ErrDecode
	case KindUnsupported:
		return ErrUnsupported
	case KindNotFound:
		return ErrNotFound
	case KindInvalidTransition:
		return ErrInvalidTransition
	case KindTimeout:
		return ErrTimeout
	case KindShutdown:
		return ErrShutdown
	case KindInternal:
		return ErrInternal
	}
	return nil
}

// ErrorKindOf returns the ErrorKind of err, if err is or wraps *Error
func ErrorKindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// newError creates a new *Error
func newError(kind ErrorKind, op, uri string, err error) *Error {
	return &Error{Kind: kind, Op: op, URI: uri, Err: err}
}

// errorf creates a new *Error with formatted message
func errorf(kind ErrorKind, op, uri, format string, args ...interface{}) *Error {
	return newError(kind, op, uri, fmt.Errorf(format, args...))
}

// statusError converts non-successful IPP status into *Error
//
// The mapping is:
//
//	client-error-not-found, client-error-gone     -> KindNotFound
//	client-error-not-possible                      -> KindInvalidTransition
//	server-error-operation-not-supported,
//	client-error-document-format-not-supported,
//	client-error-attributes-or-values-not-supported,
//	client-error-uri-scheme-not-supported          -> KindUnsupported
//	client-error-timeout                           -> KindTimeout
//	anything else                                  -> KindTransport/Protocol
func statusError(op, uri string, status goipp.Status, msg string) *Error {
	e := &Error{Op: op, URI: uri, Status: status}

	switch status {
	case goipp.StatusErrorNotFound, goipp.StatusErrorGone:
		e.Kind = KindNotFound
	case goipp.StatusErrorNotPossible:
		e.Kind = KindInvalidTransition
	case goipp.StatusErrorOperationNotSupported,
		goipp.StatusErrorDocumentFormatNotSupported,
		goipp.StatusErrorAttributesOrValues,
		goipp.StatusErrorURIScheme:
		e.Kind = KindUnsupported
	case goipp.StatusErrorTimeout:
		e.Kind = KindTimeout
	default:
		e.Kind = KindTransport
		e.Transport = TransportProtocol
	}

	if msg != "" {
		e.Err = errors.New(msg)
	}

	return e
}

// statusSuccessful tells if IPP status is successful
func statusSuccessful(status goipp.Status) bool {
	return status < 0x0100
}
