// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

// Package chat implements the OpenAI-compatible /v1/chat/completions
// endpoint: request validation, slot acquisition, sampler construction,
// the prefill-then-generate loop, and both the buffered and
// server-sent-events response shapes.
package chat

import "github.com/fenwicklm/fenwick/engine"

// Message is one turn of the incoming messages array.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params is a validated /v1/chat/completions request.
type Params struct {
	Model            string
	Messages         []Message
	Stream           bool
	MaxTokens        int // -1 means unbounded
	Seed             int64
	TopP             float64
	Temperature      float64
	PresencePenalty  float64
	FrequencyPenalty float64
	User             string
	Stop             [][]engine.Token
	Grammar          string // compiled json-schema grammar source, empty if unconstrained
}

// Choice is the single choices[0] entry every response carries (n>1 is
// not supported).
type Choice struct {
	Index        int     `json:"index"`
	Message      *msg    `json:"message,omitempty"`
	Delta        *msg    `json:"delta,omitempty"`
	Logprobs     any     `json:"logprobs"`
	FinishReason *string `json:"finish_reason"`
}

type msg struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// Response is the buffered chat.completion response envelope.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Usage reports token accounting, present only on the buffered response;
// streamed frames carry no usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
