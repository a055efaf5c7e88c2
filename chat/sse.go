// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package chat

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

// sink receives each piece of a response as it's produced, hiding
// whether the caller wants one buffered JSON body or a stream of
// server-sent events.
type sink interface {
	// start is called once, before the first token, with the envelope
	// fields already known (id, model, created).
	start(env Response) error
	// delta is called once per generated piece, with that piece's text
	// (always for choice 0, n>1 is not supported).
	delta(piece string) error
	// finish is called once, with the final finish_reason, usage
	// accounting and full generated text, when generation ends without
	// an error; a failed generation returns before finish is called.
	finish(finishReason string, usage Usage, full string) error
}

// bufferedSink ignores individual pieces and writes a single
// chat.completion JSON response from the full text passed to finish.
type bufferedSink struct {
	c   echo.Context
	env Response
}

func newBufferedSink(c echo.Context) *bufferedSink {
	return &bufferedSink{c: c}
}

func (s *bufferedSink) start(env Response) error {
	s.env = env
	return nil
}

func (s *bufferedSink) delta(string) error { return nil }

func (s *bufferedSink) finish(finishReason string, usage Usage, full string) error {
	s.env.Usage = &usage
	s.env.Choices = []Choice{{
		Index:        0,
		Message:      &msg{Role: "assistant", Content: full},
		Logprobs:     nil,
		FinishReason: &finishReason,
	}}
	return s.c.JSON(http.StatusOK, s.env)
}

// streamSink writes each piece as its own server-sent event, reusing
// the same envelope the buffered sink would have written (object stays
// "chat.completion"; only choices[0] switches from message to delta),
// finishing with a finish_reason chunk and the `data: [DONE]` sentinel
// OpenAI clients expect.
type streamSink struct {
	c   echo.Context
	env Response
}

func newStreamSink(c echo.Context) *streamSink {
	return &streamSink{c: c}
}

func (s *streamSink) start(env Response) error {
	s.env = env

	resp := s.c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	return s.writeChunk(Choice{
		Index:    0,
		Delta:    &msg{Role: "assistant", Content: ""},
		Logprobs: nil,
	})
}

func (s *streamSink) delta(piece string) error {
	return s.writeChunk(Choice{
		Index:    0,
		Delta:    &msg{Content: piece},
		Logprobs: nil,
	})
}

func (s *streamSink) finish(finishReason string, _ Usage, _ string) error {
	err := s.writeChunk(Choice{
		Index:        0,
		Delta:        &msg{Content: ""},
		Logprobs:     nil,
		FinishReason: &finishReason,
	})
	if err != nil {
		return err
	}
	_, err = s.c.Response().Write([]byte("data: [DONE]\n\n"))
	s.c.Response().Flush()
	return err
}

func (s *streamSink) writeChunk(choice Choice) error {
	s.env.Choices = []Choice{choice}
	body, err := json.Marshal(s.env)
	if err != nil {
		return err
	}

	resp := s.c.Response()
	if _, err := resp.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := resp.Write(body); err != nil {
		return err
	}
	if _, err := resp.Write([]byte("\n\n")); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
