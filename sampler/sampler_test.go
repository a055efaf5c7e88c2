// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package sampler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fenwicklm/fenwick/engine"
	"github.com/fenwicklm/fenwick/grammar"
)

func TestSampleZeroTemperatureIsDeterministic(t *testing.T) {
	t.Parallel()
	handle := engine.NewReference(2048, "")
	logits := make([]float64, handle.VocabSize())
	logits[engine.Token('x')] = 10
	logits[engine.Token('y')] = 1

	for seed := range uint64(3) {
		s := New(Params{Temperature: 0, TopP: 1, Seed: seed}, nil)
		tok, err := s.Sample(handle, logits)
		require.NoError(t, err)
		require.Equal(t, engine.Token('x'), tok)
	}
}

func TestSampleSameSeedSameSequence(t *testing.T) {
	t.Parallel()
	handle := engine.NewReference(2048, "")
	logits := make([]float64, handle.VocabSize())
	logits[engine.Token('a')] = 5
	logits[engine.Token('b')] = 5
	logits[engine.Token('c')] = 1

	run := func() []engine.Token {
		s := New(Params{Temperature: 1, TopP: 1, Seed: 42}, nil)
		var out []engine.Token
		for range 5 {
			tok, err := s.Sample(handle, logits)
			require.NoError(t, err)
			out = append(out, tok)
		}
		return out
	}
	require.Equal(t, run(), run())
}

func TestSampleRespectsGrammar(t *testing.T) {
	t.Parallel()
	handle := engine.NewReference(2048, "")
	g, err := grammar.Compile(`{"type":"object"}`)
	require.NoError(t, err)

	logits := make([]float64, handle.VocabSize())
	logits[engine.Token('[')] = 100
	logits[engine.Token('{')] = 1

	s := New(Params{Temperature: 0, TopP: 1}, g)
	tok, err := s.Sample(handle, logits)
	require.NoError(t, err)
	require.Equal(t, engine.Token('{'), tok, "grammar should have ruled out '[' as the opener")
}

func TestPenaltiesReduceRepeatLikelihood(t *testing.T) {
	t.Parallel()
	handle := engine.NewReference(2048, "")
	logits := make([]float64, handle.VocabSize())
	logits[engine.Token('a')] = 5
	logits[engine.Token('b')] = 4.9

	s := New(Params{Temperature: 0, TopP: 1, PresencePenalty: 10}, nil)
	first, err := s.Sample(handle, logits)
	require.NoError(t, err)
	require.Equal(t, engine.Token('a'), first)

	second, err := s.Sample(handle, logits)
	require.NoError(t, err)
	require.Equal(t, engine.Token('b'), second, "presence penalty should push sampling off the just-emitted token")
}
