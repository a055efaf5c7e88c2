// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package chat

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fenwicklm/fenwick/engine"
	"github.com/fenwicklm/fenwick/errs"
	"github.com/fenwicklm/fenwick/grammar"
	"github.com/fenwicklm/fenwick/reqid"
	"github.com/fenwicklm/fenwick/sampler"
	"github.com/fenwicklm/fenwick/slot"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz012345"

// genID produces a "chatcmpl-" id from two 64-bit random draws, 12
// base-32 characters each.
func genID() string {
	b := make([]byte, 0, len("chatcmpl-")+24)
	b = append(b, "chatcmpl-"...)
	for i := 0; i < 2; i++ {
		w := rand.Uint64()
		for j := 0; j < 12; j++ {
			b = append(b, idAlphabet[w&31])
			w >>= 5
		}
	}
	return string(b)
}

// Handler is the echo-bound /v1/chat/completions endpoint. It owns
// nothing across requests beyond the shared, read-only engine.Handle and
// slot.Pool.
type Handler struct {
	handle engine.Handle
	pool   *slot.Pool
}

// NewHandler builds a Handler serving completions over handle, with up
// to maxConcurrent requests in flight at once.
func NewHandler(handle engine.Handle, maxConcurrent int) *Handler {
	return &Handler{handle: handle, pool: slot.NewPool(handle, maxConcurrent)}
}

// ServeHTTP implements the full ten-stage orchestration: parse, acquire
// a slot, build a sampler, prefill, run the sampling loop, finalize.
// Every stage's resources are released on every exit path via defer,
// registered immediately after acquisition.
func (h *Handler) ServeHTTP(c echo.Context) error {
	ctx := reqid.WithID(c.Request().Context(), reqid.New())
	c.SetRequest(c.Request().WithContext(ctx))

	err := h.serve(c, ctx)
	if err != nil {
		reqid.LogError(ctx, err)
	}
	return err
}

func (h *Handler) serve(c echo.Context, ctx context.Context) error {
	reqid.Enter(ctx, reqid.StageParse)
	params, err := ParseParams(c, h.handle)
	if err != nil {
		return err
	}

	reqid.Enter(ctx, reqid.StageTemplate)
	prompt, err := h.handle.ApplyChatTemplate(toEngineMessages(params.Messages))
	if err != nil {
		return errs.Wrap(err, errs.Transient, "TEMPLATE_FAILED", "failed to apply chat template")
	}

	reqid.Enter(ctx, reqid.StageTokenize)
	promptTokens, err := h.handle.Tokenize(prompt, true)
	if err != nil {
		return errs.Wrap(err, errs.Transient, "TOKENIZE_FAILED", "failed to tokenize prompt")
	}

	reqid.Enter(ctx, reqid.StageAcquire)
	s, err := h.pool.Acquire()
	if err != nil {
		return err
	}
	defer s.Release()

	if len(promptTokens)+1 > s.NCtx() {
		return errs.New(errs.ClientSemantic, "PROMPT_TOO_LONG", "prompt too big for model context size")
	}

	var gram *grammar.Grammar
	if params.Grammar != "" {
		gram, err = grammar.Compile(params.Grammar)
		if err != nil {
			return errs.Wrap(err, errs.Transient, "GRAMMAR_COMPILE_FAILED", "failed to create sampler")
		}
	}
	samp := sampler.New(sampler.Params{
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
		Seed:             uint64(params.Seed),
	}, gram)

	reqid.Enter(ctx, reqid.StagePrefill)
	if err := s.Prefill(promptTokens); err != nil {
		return errs.Wrap(err, errs.Transient, "PREFILL_FAILED", "llama_decode prefill failed")
	}

	env := Response{
		ID:      genID(),
		Object:  "chat.completion",
		Model:   params.Model,
		Created: time.Now().Unix(),
	}

	var out sink
	if params.Stream {
		out = newStreamSink(c)
	} else {
		out = newBufferedSink(c)
	}
	if err := out.start(env); err != nil {
		return err
	}

	reqid.Enter(ctx, reqid.StageGenerate)
	result, err := runGeneration(s, h.handle, samp, promptTokens, params, out)
	if err != nil {
		return err
	}

	reqid.Enter(ctx, reqid.StageRespond)
	return out.finish(result.finishReason, result.usage, result.full)
}

func toEngineMessages(messages []Message) []engine.Message {
	out := make([]engine.Message, len(messages))
	for i, m := range messages {
		out[i] = engine.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
