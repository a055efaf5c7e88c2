// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package chat

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/fenwicklm/fenwick/config"
	"github.com/fenwicklm/fenwick/errs"
	"github.com/fenwicklm/fenwick/modelstore"
)

// RealBackend proxies a fully-formed HTTP request to a managed
// llama-server process instead of the in-process reference engine.
type RealBackend interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// NewEcho builds the server's route tree: logging/CORS middleware,
// optional API-key protection, GET /models, and POST
// /v1/chat/completions. When backend is non-nil, completions are
// proxied to it instead of being served in-process by handler.
func NewEcho(cfg *config.Config, handler *Handler, backend RealBackend) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${method} ${status} ${uri}  ${latency_human} ${remote_ip} ${error}\n",
	}))
	if l, ok := e.Logger.(*log.Logger); ok {
		l.SetHeader("[${time_rfc3339}] ${level}")
	}

	if cfg.Origins != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     strings.Split(cfg.Origins, ","),
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
			AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodPost},
			AllowCredentials: true,
		}))
	}

	e.Use(errs.EchoMiddleware)

	modelsGroup := e.Group("/models")
	setupAPIKeyAuth(modelsGroup, cfg.APIKey, "models")
	store := modelstore.Dir(cfg.ModelsDir)
	modelsGroup.GET("", store.Handler)

	chatGroup := e.Group("/v1")
	setupAPIKeyAuth(chatGroup, cfg.APIKey, "chat")
	if backend != nil {
		chatGroup.POST("/chat/completions", echo.WrapHandler(http.HandlerFunc(backend.ServeHTTP)))
	} else {
		chatGroup.POST("/chat/completions", handler.ServeHTTP)
	}

	return e
}

// setupAPIKeyAuth protects grp with cfg's API key, if one is set; an
// empty key disables the check and logs a warning instead.
func setupAPIKeyAuth(grp *echo.Group, key, service string) {
	if key == "" {
		fmt.Printf("WRN: no API key configured for %q => endpoint is open\n", service)
		return
	}
	grp.Use(middleware.KeyAuth(func(received string, c echo.Context) (bool, error) {
		return received == key, nil
	}))
}
