// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package errs

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// WriteHTTP writes err as a short single-line text body with the status
// implied by its Type, or by an *echo.HTTPError's own Code for errors
// raised directly against the transport (wrong method, wrong content
// type). Unrecognized errors fall back to 500. Errors returned by echo
// handlers behind EchoMiddleware reach the wire through this function;
// backend.Manager and modelstore's Handler write their own error bodies.
func WriteHTTP(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return c.String(he.Code, msg)
	}

	var e *Error
	if !errors.As(err, &e) {
		return c.String(http.StatusInternalServerError, "internal error")
	}
	return c.String(StatusCode(e.Type), e.Message)
}

// EchoMiddleware centralizes error handling for echo: any error a handler
// returns is converted to the short text response WriteHTTP produces.
func EchoMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err == nil {
			return nil
		}
		if c.Response().Committed {
			// response already started (streaming) — nothing more can be sent.
			return nil
		}
		return WriteHTTP(c, err)
	}
}
