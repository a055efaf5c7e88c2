// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package chat

import (
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fenwicklm/fenwick/engine"
	"github.com/fenwicklm/fenwick/errs"
	"github.com/fenwicklm/fenwick/grammar"
)

const maxStopSequences = 4

// unsupportedFields are OpenAI request fields this server does not
// support on chat completions; a non-null value is a semantic error, not
// silently ignored, while an explicit null is accepted.
var unsupportedFields = []string{
	"n", "tools", "audio", "logprobs", "functions",
	"modalities", "tool_choice", "top_logprobs",
	"function_call", "parallel_tool_calls",
}

// ParseParams validates the transport framing (method, content type),
// then parses and validates the JSON body into a Params. handle is used
// to tokenize stop sequences into the model's own vocabulary, the way
// the original resolves `stop` against llama_tokenize at parse time.
func ParseParams(c echo.Context, handle engine.Handle) (*Params, error) {
	req := c.Request()
	if req.Method != http.MethodPost {
		return nil, echo.NewHTTPError(http.StatusMethodNotAllowed)
	}
	if !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return nil, echo.NewHTTPError(http.StatusNotImplemented, "Content Type Not Implemented")
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, errs.Wrap(err, errs.ClientSyntax, "BODY_READ_FAILED", "failed to read request body")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Wrap(err, errs.ClientSyntax, "BAD_JSON", "JSON body must be an object")
	}

	for _, field := range unsupportedFields {
		if v, present := raw[field]; present && string(v) != "null" {
			return nil, errs.New(errs.ClientSemantic, "UNSUPPORTED_FIELD", "OpenAI "+field+" field not supported")
		}
	}

	params := &Params{
		MaxTokens:   -1,
		TopP:        1,
		Temperature: 1,
	}

	if err := parseModel(raw, params); err != nil {
		return nil, err
	}
	if err := parseMessages(raw, params); err != nil {
		return nil, err
	}
	if err := parseOptionalScalars(raw, params); err != nil {
		return nil, err
	}
	if err := parseStop(raw, params, handle); err != nil {
		return nil, err
	}
	if err := parseResponseFormat(raw, params); err != nil {
		return nil, err
	}

	if _, seedGiven := raw["seed"]; !seedGiven {
		params.Seed = int64(rand.Uint64() >> 1) //nolint:gosec // sampling seed, not a security key
	}

	return params, nil
}

func parseModel(raw map[string]json.RawMessage, params *Params) error {
	var model string
	if err := json.Unmarshal(raw["model"], &model); err != nil || model == "" {
		return errs.New(errs.ClientSemantic, "MISSING_MODEL", "JSON missing model string")
	}
	params.Model = model
	return nil
}

func parseMessages(raw map[string]json.RawMessage, params *Params) error {
	var rawMessages []json.RawMessage
	if err := json.Unmarshal(raw["messages"], &rawMessages); err != nil || rawMessages == nil {
		return errs.New(errs.ClientSemantic, "MISSING_MESSAGES", "JSON missing messages array")
	}

	messages := make([]Message, 0, len(rawMessages))
	for _, rm := range rawMessages {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(rm, &fields); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_MESSAGE", "messages array must hold objects")
		}

		var role string
		if err := json.Unmarshal(fields["role"], &role); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_MESSAGE_ROLE_TYPE", "message must have string role")
		}
		if !isLegalRole(role) {
			return errs.New(errs.ClientSemantic, "BAD_ROLE", "message role not system user assistant")
		}

		var content string
		if err := json.Unmarshal(fields["content"], &content); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_MESSAGE_CONTENT_TYPE", "message must have string content")
		}

		messages = append(messages, Message{Role: role, Content: content})
	}
	params.Messages = messages
	return nil
}

func isLegalRole(role string) bool {
	return role == "system" || role == "user" || role == "assistant"
}

func parseOptionalScalars(raw map[string]json.RawMessage, params *Params) error {
	if v, ok := raw["stream"]; ok {
		if err := json.Unmarshal(v, &params.Stream); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_STREAM", "stream field must be boolean")
		}
	}

	if err := parseIntField(raw, "max_tokens", &params.MaxTokens); err != nil {
		return err
	}
	if _, ok := raw["max_completion_tokens"]; ok {
		if err := parseIntField(raw, "max_completion_tokens", &params.MaxTokens); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_MAX_TOKENS", "max_completion_tokens must be integer")
		}
	}

	if v, ok := raw["seed"]; ok {
		if err := json.Unmarshal(v, &params.Seed); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_SEED", "seed must be integer")
		}
	}

	if v, ok := raw["top_p"]; ok {
		if err := json.Unmarshal(v, &params.TopP); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_TOP_P", "top_p must be number")
		}
	}

	if v, ok := raw["temperature"]; ok {
		if err := json.Unmarshal(v, &params.Temperature); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_TEMPERATURE", "temperature must be number")
		}
		if params.Temperature < 0 || params.Temperature > 2 {
			return errs.New(errs.ClientSemantic, "TEMPERATURE_RANGE", "temperature must be between 0 and 2")
		}
	}

	if v, ok := raw["presence_penalty"]; ok {
		if err := json.Unmarshal(v, &params.PresencePenalty); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_PRESENCE_PENALTY", "presence_penalty must be number")
		}
		if params.PresencePenalty < -2 || params.PresencePenalty > 2 {
			return errs.New(errs.ClientSemantic, "PRESENCE_PENALTY_RANGE", "presence_penalty must be between -2 and 2")
		}
	}

	if v, ok := raw["frequency_penalty"]; ok {
		if err := json.Unmarshal(v, &params.FrequencyPenalty); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_FREQUENCY_PENALTY", "frequency_penalty must be number")
		}
		if params.FrequencyPenalty < -2 || params.FrequencyPenalty > 2 {
			return errs.New(errs.ClientSemantic, "FREQUENCY_PENALTY_RANGE", "frequency_penalty must be -2 through 2")
		}
	}

	if v, ok := raw["user"]; ok {
		if err := json.Unmarshal(v, &params.User); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_USER", "JSON missing user string")
		}
	}

	return nil
}

func parseIntField(raw map[string]json.RawMessage, field string, dst *int) error {
	v, ok := raw[field]
	if !ok {
		return nil
	}
	var n int
	if err := json.Unmarshal(v, &n); err != nil {
		return errs.New(errs.ClientSemantic, "BAD_"+strings.ToUpper(field), field+" must be integer")
	}
	*dst = n
	return nil
}

func parseStop(raw map[string]json.RawMessage, params *Params, handle engine.Handle) error {
	v, ok := raw["stop"]
	if !ok {
		return nil
	}

	var single string
	if err := json.Unmarshal(v, &single); err == nil {
		if len(single) > 50 {
			return errs.New(errs.ClientSemantic, "STOP_TOO_LONG", "stop string too long")
		}
		return addStop(params, handle, single)
	}

	var many []string
	if err := json.Unmarshal(v, &many); err != nil {
		return errs.New(errs.ClientSemantic, "BAD_STOP", "stop field must be string or string array")
	}
	if len(many) > maxStopSequences {
		return errs.New(errs.ClientSemantic, "TOO_MANY_STOPS", "stop array must have 4 items or fewer")
	}
	for _, s := range many {
		if len(s) > 50 {
			return errs.New(errs.ClientSemantic, "STOP_TOO_LONG", "stop array string too long")
		}
		if err := addStop(params, handle, s); err != nil {
			return err
		}
	}
	return nil
}

func addStop(params *Params, handle engine.Handle, text string) error {
	tokens, err := handle.Tokenize(text, false)
	if err != nil {
		return errs.Wrap(err, errs.ClientSemantic, "STOP_TOKENIZE_FAILED", "failed to tokenize stop sequence")
	}
	params.Stop = append(params.Stop, tokens)
	return nil
}

func parseResponseFormat(raw map[string]json.RawMessage, params *Params) error {
	v, ok := raw["response_format"]
	if !ok {
		return nil
	}

	var asString string
	if err := json.Unmarshal(v, &asString); err == nil {
		if asString != "auto" {
			return errs.New(errs.ClientSemantic, "BAD_RESPONSE_FORMAT", "response_format not supported")
		}
		return nil
	}

	var asObject struct {
		Type       string          `json:"type"`
		JSONSchema json.RawMessage `json:"json_schema"`
	}
	if err := json.Unmarshal(v, &asObject); err != nil {
		return errs.New(errs.ClientSemantic, "BAD_RESPONSE_FORMAT", "response_format must be string or object")
	}

	switch asObject.Type {
	case "json_object":
		params.Grammar = `{"type": "object"}`
	case "json_schema":
		if len(asObject.JSONSchema) == 0 {
			return errs.New(errs.ClientSemantic, "BAD_JSON_SCHEMA", "response_format.json_schema must be object")
		}
		if _, err := grammar.Compile(string(asObject.JSONSchema)); err != nil {
			return errs.New(errs.ClientSemantic, "BAD_JSON_SCHEMA", "bad json schema")
		}
		params.Grammar = string(asObject.JSONSchema)
	default:
		return errs.New(errs.ClientSemantic, "BAD_RESPONSE_FORMAT_TYPE", "response_format.type unsupported")
	}
	return nil
}
