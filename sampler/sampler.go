// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

// Package sampler turns a model's raw logits into the next token,
// applying temperature, top-p, and presence/frequency penalties, and
// optionally rejecting candidates a constrained-decoding Grammar would
// not accept.
package sampler

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/fenwicklm/fenwick/engine"
	"github.com/fenwicklm/fenwick/grammar"
)

// Params mirrors the sampling fields of a completion request.
type Params struct {
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	Seed             uint64
}

// Sampler draws tokens from a Handle's logits under Params, tracking
// per-token emission counts for the presence/frequency penalties and,
// when Grammar is set, the JSON-container state those tokens must stay
// inside.
type Sampler struct {
	params Params
	rng    *rand.Rand
	counts map[engine.Token]int

	gram  *grammar.Grammar
	state *grammar.State
}

// New builds a Sampler seeded from params.Seed. When gram is non-nil,
// every candidate is checked against the grammar's running state before
// being accepted.
func New(params Params, gram *grammar.Grammar) *Sampler {
	s := &Sampler{
		params: params,
		rng:    rand.New(rand.NewPCG(params.Seed, params.Seed)),
		counts: make(map[engine.Token]int),
		gram:   gram,
	}
	if gram != nil {
		s.state = gram.NewState()
	}
	return s
}

type candidate struct {
	token engine.Token
	logit float64
}

// Sample picks the next token from logits (one score per vocabulary id)
// given a Handle used to render candidates to text for grammar checks.
// At temperature 0 it is deterministic argmax, independent of seed.
func (s *Sampler) Sample(handle engine.Handle, logits []float64) (engine.Token, error) {
	cands := make([]candidate, len(logits))
	for id, logit := range logits {
		cands[id] = candidate{token: engine.Token(id), logit: s.penalize(engine.Token(id), logit)}
	}

	if s.gram != nil {
		filtered, err := s.filterByGrammar(handle, cands)
		if err != nil {
			return 0, err
		}
		if len(filtered) > 0 {
			cands = filtered
		}
	}

	var chosen engine.Token
	if s.params.Temperature <= 0 {
		chosen = argmax(cands)
	} else {
		chosen = s.sampleStochastic(cands)
	}

	s.counts[chosen]++
	if s.state != nil {
		if piece, err := handle.TokenToPiece(chosen); err == nil {
			s.state.Accept(piece)
		}
	}
	return chosen, nil
}

func (s *Sampler) penalize(tok engine.Token, logit float64) float64 {
	n := float64(s.counts[tok])
	if n == 0 {
		return logit
	}
	return logit - s.params.PresencePenalty - n*s.params.FrequencyPenalty
}

func (s *Sampler) filterByGrammar(handle engine.Handle, cands []candidate) ([]candidate, error) {
	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		piece, err := handle.TokenToPiece(c.token)
		if err != nil {
			return nil, err
		}
		if handle.IsEOG(c.token) || s.state.Try(piece) {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func argmax(cands []candidate) engine.Token {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.logit > best.logit {
			best = c
		}
	}
	return best.token
}

// sampleStochastic applies temperature scaling, softmax, top-p nucleus
// truncation, then draws from the resulting distribution.
func (s *Sampler) sampleStochastic(cands []candidate) engine.Token {
	scaled := make([]candidate, len(cands))
	for i, c := range cands {
		scaled[i] = candidate{token: c.token, logit: c.logit / s.params.Temperature}
	}

	probs := softmax(scaled)
	sort.Slice(probs, func(i, j int) bool { return probs[i].logit > probs[j].logit })

	topP := s.params.TopP
	if topP <= 0 || topP > 1 {
		topP = 1
	}
	var cumulative float64
	cut := len(probs)
	for i, p := range probs {
		cumulative += p.logit
		if cumulative >= topP {
			cut = i + 1
			break
		}
	}
	nucleus := probs[:cut]

	var total float64
	for _, p := range nucleus {
		total += p.logit
	}
	draw := s.rng.Float64() * total
	var acc float64
	for _, p := range nucleus {
		acc += p.logit
		if draw <= acc {
			return p.token
		}
	}
	return nucleus[len(nucleus)-1].token
}

func softmax(cands []candidate) []candidate {
	max := cands[0].logit
	for _, c := range cands[1:] {
		if c.logit > max {
			max = c.logit
		}
	}
	var sum float64
	exps := make([]float64, len(cands))
	for i, c := range cands {
		exps[i] = math.Exp(c.logit - max)
		sum += exps[i]
	}
	out := make([]candidate, len(cands))
	for i, c := range cands {
		out[i] = candidate{token: c.token, logit: exps[i] / sum}
	}
	return out
}
