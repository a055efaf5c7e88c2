// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

// Package errs implements the typed error taxonomy used across the server:
// every failure path carries a Type that the HTTP layer maps to a status
// code, so handlers never juggle status codes directly.
package errs

import (
	"fmt"
	"net/http"
)

type (
	// Type classifies a failure for HTTP status mapping and logging.
	Type string

	// Error is a structured error carrying a Type, a machine Code, a short
	// human Message and an optional Cause.
	Error struct {
		Cause   error `json:"cause,omitempty"`
		Type    Type  `json:"type"`
		Code    string
		Message string `json:"message"`
	}
)

const (
	// ClientProtocol indicates a malformed request at the transport level (wrong method, content type).
	ClientProtocol Type = "protocol"
	// ClientSyntax indicates a request body that does not parse.
	ClientSyntax Type = "syntax"
	// ClientSemantic indicates a well-formed request with an invalid value.
	ClientSemantic Type = "semantic"
	// Transient indicates a backend failure that is not the client's fault.
	Transient Type = "transient"
	// Configuration indicates a startup/config error.
	Configuration Type = "configuration"
	// NotFound indicates a missing resource.
	NotFound Type = "not_found"
	// Unauthorized indicates a missing or wrong API key.
	Unauthorized Type = "unauthorized"
)

// New creates an Error with no cause.
func New(t Type, code, message string) *Error {
	return &Error{Type: t, Code: code, Message: message}
}

// Wrap creates an Error around an existing cause.
func Wrap(cause error, t Type, code, message string) *Error {
	return &Error{Type: t, Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode maps a Type to the HTTP status the handler boundary should
// return. ClientProtocol covers both 405 (wrong method) and 501
// (unsupported content type); callers that need that distinction raise
// an *echo.HTTPError directly instead of wrapping it in an *Error, so
// ClientProtocol here only serves as a generic fallback.
func StatusCode(t Type) int {
	switch t {
	case ClientProtocol, ClientSyntax, ClientSemantic:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Transient, Configuration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
