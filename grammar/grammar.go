// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

// Package grammar compiles a JSON-schema string into a lightweight
// constrained-decoding grammar: a brace/bracket/quote-balance state
// machine that keeps sampled text a well-formed prefix of a JSON object
// or array. This is a deliberately narrow stand-in for the original's
// json_schema_string_to_grammar — full JSON-schema validation (required
// properties, types of individual fields, enums, ...) during decoding
// would need a real GBNF compiler, which nothing in the example pack
// provides.
package grammar

import (
	"encoding/json"

	"github.com/fenwicklm/fenwick/errs"
)

// Grammar constrains generation to a single top-level JSON container.
type Grammar struct {
	root byte // '{' or '['
}

// Compile parses schemaJSON and returns a Grammar for its top-level
// "type" ("object" or "array"; anything else defaults to "object", the
// original's behavior for the fixed {"type":"object"} json_object mode).
func Compile(schemaJSON string) (*Grammar, error) {
	var schema map[string]any
	err := json.Unmarshal([]byte(schemaJSON), &schema)
	if err != nil {
		return nil, errs.Wrap(err, errs.ClientSemantic, "BAD_JSON_SCHEMA", "bad json schema")
	}

	root := byte('{')
	if t, _ := schema["type"].(string); t == "array" {
		root = '['
	}
	return &Grammar{root: root}, nil
}

// NewState starts a fresh decode-time grammar state.
func (g *Grammar) NewState() *State {
	return &State{root: g.root}
}

// State tracks how much of the generated text has been consumed against
// the grammar. It is cheap to copy, which Try relies on to probe without
// mutating the caller's state.
type State struct {
	root     byte
	depth    int
	inString bool
	escaped  bool
	started  bool
	closed   bool
}

// Try reports whether appending piece would still be a legal prefix,
// without mutating s.
func (s *State) Try(piece string) bool {
	probe := *s
	return probe.apply(piece)
}

// Accept applies piece to s. Callers must only call Accept after a
// successful Try with the same piece.
func (s *State) Accept(piece string) {
	s.apply(piece)
}

func (s *State) apply(piece string) bool {
	for _, c := range piece {
		if !s.step(byte(c)) {
			return false
		}
	}
	return true
}

func (s *State) step(c byte) bool {
	if s.closed {
		return false
	}

	if s.inString {
		switch {
		case s.escaped:
			s.escaped = false
		case c == '\\':
			s.escaped = true
		case c == '"':
			s.inString = false
		}
		return true
	}

	switch {
	case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		return true
	case c == '"':
		s.inString = true
		s.started = true
		return true
	case c == '{' || c == '[':
		if !s.started {
			if c != s.root {
				return false
			}
		}
		s.started = true
		s.depth++
		return true
	case c == '}' || c == ']':
		s.depth--
		if s.depth < 0 {
			return false
		}
		if s.depth == 0 {
			s.closed = true
		}
		return true
	case c == ':' || c == ',':
		return s.started
	default:
		return s.started
	}
}
