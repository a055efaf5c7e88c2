// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

// Package slot models the per-request decode context a chat-completion
// request occupies for its lifetime: the prompt tokens it was started
// with, the tokens generated so far, and release back to the pool. It
// stands in for a real llama.cpp KV-cache slot (spec.md scopes the
// actual token decode kernel as an external collaborator).
package slot

import (
	"sync"

	"github.com/fenwicklm/fenwick/engine"
	"github.com/fenwicklm/fenwick/errs"
)

// Pool hands out Slots up to a fixed concurrency limit, mirroring the
// original's fixed-size slot array (one decode context per concurrent
// request, no queueing beyond "no slot available").
type Pool struct {
	handle engine.Handle

	mu   sync.Mutex
	free int
}

// NewPool returns a Pool of n concurrent Slots backed by handle.
func NewPool(handle engine.Handle, n int) *Pool {
	return &Pool{handle: handle, free: n}
}

// Acquire reserves one Slot, or fails with errs.Transient if the pool is
// exhausted, which errs.StatusCode maps to a 500.
func (p *Pool) Acquire() (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.free <= 0 {
		return nil, errs.New(errs.Transient, "NO_SLOT_AVAILABLE", "no slot available, try again later")
	}
	p.free--
	return &Slot{pool: p, handle: p.handle}, nil
}

// Slot is a single request's decode context. Callers must call Release
// exactly once, normally via defer, regardless of how the request ends.
type Slot struct {
	pool   *Pool
	handle engine.Handle

	history []engine.Token
}

// NCtx returns the underlying model's context window.
func (s *Slot) NCtx() int {
	return s.handle.NCtx()
}

// Prefill seeds the slot's decode history with promptTokens, failing
// unless they leave room for at least one more token in the context
// window.
func (s *Slot) Prefill(promptTokens []engine.Token) error {
	if len(promptTokens) >= s.NCtx() {
		return errs.New(errs.ClientSemantic, "PROMPT_TOO_LONG", "the request exceeds the available context size")
	}
	s.history = append(s.history[:0], promptTokens...)
	return nil
}

// EvalToken runs one decode step: scores the next token from the current
// history. It does not change the history; the caller appends its chosen
// token with Accept so the next call conditions on it too.
func (s *Slot) EvalToken() ([]float64, error) {
	return s.handle.NextLogits(s.history)
}

// Accept appends tok to the slot's history, failing if doing so would
// exceed the context window (spec.md's "context exhausted mid-generation"
// edge case).
func (s *Slot) Accept(tok engine.Token) error {
	if len(s.history)+1 > s.NCtx() {
		return errs.New(errs.ClientSemantic, "CONTEXT_EXHAUSTED", "context window exhausted during generation")
	}
	s.history = append(s.history, tok)
	return nil
}

// History returns the slot's current token sequence, prompt plus
// generated so far.
func (s *Slot) History() []engine.Token {
	return s.history
}

// Release returns the slot to its pool. Safe to call multiple times.
func (s *Slot) Release() {
	if s.pool == nil {
		return
	}
	s.pool.mu.Lock()
	s.pool.free++
	s.pool.mu.Unlock()
	s.pool = nil
}
