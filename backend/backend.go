// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

// Package backend optionally hands chat-completion requests off to a
// real llama-swap-managed llama-server process instead of the
// in-process reference engine. It is wired up only when a config's
// Backend section names an executable; otherwise the in-process engine
// serves every request and this package is inert.
package backend

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/mostlygeek/llama-swap/proxy"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/fenwicklm/fenwick/errs"
)

// Config is the subset of llama-swap's own config this server needs to
// start a managed proxy: which models it can launch, and under what
// name each one answers to.
type Config struct {
	Models map[string]proxy.ModelConfig
}

// Manager fronts a llama-swap ProxyManager, rewriting the requested
// model name before handing the request off to the managed process.
type Manager struct {
	pm         *proxy.ProxyManager
	defaultTag string
}

// New starts a llama-swap ProxyManager from cfg. defaultTag is used in
// place of an empty "model" field in an incoming request body.
func New(cfg Config, defaultTag string) *Manager {
	pm := proxy.New(&proxy.Config{Models: cfg.Models})
	return &Manager{pm: pm, defaultTag: defaultTag}
}

// ServeHTTP rewrites the request body's "model" field, if needed, then
// delegates to the underlying llama-swap proxy.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	rewritten, _, err := m.RewriteModel(body)
	if err != nil {
		status := http.StatusInternalServerError
		if ferr, ok := err.(*errs.Error); ok {
			status = errs.StatusCode(ferr.Type)
		}
		http.Error(w, err.Error(), status)
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(rewritten))
	r.ContentLength = int64(len(rewritten))
	m.pm.HandlerFunc(w, r)
}

// RewriteModel reads the "model" field out of body, substitutes
// m.defaultTag if it is blank, and returns the possibly-rewritten body
// along with the resolved model name.
func (m *Manager) RewriteModel(body []byte) ([]byte, string, error) {
	requested := strings.TrimSpace(gjson.GetBytes(body, "model").String())
	if requested != "" {
		return body, requested, nil
	}
	if m.defaultTag == "" {
		return nil, "", errs.New(errs.ClientSemantic, "MISSING_MODEL", "model is required and no default is configured")
	}

	rewritten, err := sjson.SetBytes(body, "model", m.defaultTag)
	if err != nil {
		return nil, "", errs.Wrap(err, errs.Transient, "MODEL_REWRITE_FAILED", "failed to set default model in request body")
	}
	return rewritten, m.defaultTag, nil
}
