// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package chat

import (
	"strings"

	"github.com/fenwicklm/fenwick/engine"
	"github.com/fenwicklm/fenwick/sampler"
	"github.com/fenwicklm/fenwick/slot"
)

// generationResult carries what the sampling loop produced, independent
// of which sink rendered it.
type generationResult struct {
	finishReason string
	usage        Usage
	full         string
}

// runGeneration drives the token-by-token sampling loop, over a slot
// that has already been prefilled with promptTokens, until max tokens,
// end-of-generation, a stop sequence, or context exhaustion, emitting
// each piece to out as it is produced.
func runGeneration(s *slot.Slot, handle engine.Handle, samp *sampler.Sampler, promptTokens []engine.Token, params *Params, out sink) (generationResult, error) {
	var full strings.Builder
	var recent []engine.Token
	completionTokens := 0
	finishReason := "length"

	for params.MaxTokens < 0 || completionTokens < params.MaxTokens {
		logits, err := s.EvalToken()
		if err != nil {
			return generationResult{}, err
		}

		id, err := samp.Sample(handle, logits)
		if err != nil {
			return generationResult{}, err
		}

		if handle.IsEOG(id) {
			finishReason = "stop"
			break
		}

		completionTokens++
		piece, err := handle.TokenToPiece(id)
		if err != nil {
			return generationResult{}, err
		}
		full.WriteString(piece)

		if err := out.delta(piece); err != nil {
			return generationResult{}, err
		}

		recent = append(recent, id)
		if matchesStop(recent, params.Stop) {
			finishReason = "stop"
			break
		}

		if err := s.Accept(id); err != nil {
			finishReason = "length"
			break
		}
	}

	return generationResult{
		finishReason: finishReason,
		usage: Usage{
			PromptTokens:     len(promptTokens),
			CompletionTokens: completionTokens,
			TotalTokens:      len(promptTokens) + completionTokens,
		},
		full: full.String(),
	}, nil
}

// matchesStop reports whether the tail of recent equals any configured
// stop sequence.
func matchesStop(recent []engine.Token, stops [][]engine.Token) bool {
	for _, stop := range stops {
		if len(stop) == 0 || len(stop) > len(recent) {
			continue
		}
		tail := recent[len(recent)-len(stop):]
		if tokensEqual(tail, stop) {
			return true
		}
	}
	return false
}

func tokensEqual(a, b []engine.Token) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
