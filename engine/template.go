// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package engine

import (
	"strings"

	"github.com/valyala/fasttemplate"
)

// turnTemplate mirrors the shape of a --chat-template-file a real
// llama-server would be pointed at; here it is baked in since templates
// are rendered in-process rather than handed off to an external binary.
const turnTemplate = "<|{{role}}|>\n{{content}}\n"

// RenderChatTemplate concatenates one rendered turn per message, followed
// by the assistant turn's opening tag so the model continues from there.
func RenderChatTemplate(messages []Message) (string, error) {
	var out strings.Builder
	for _, m := range messages {
		piece := fasttemplate.New(turnTemplate, "{{", "}}")
		_, err := piece.Execute(&out, map[string]any{
			"role":    m.Role,
			"content": m.Content,
		})
		if err != nil {
			return "", err
		}
	}
	out.WriteString("<|assistant|>\n")
	return out.String(), nil
}
