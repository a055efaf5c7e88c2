// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/fenwicklm/fenwick/engine"
	"github.com/fenwicklm/fenwick/errs"
)

func newHandler(script string) (*echo.Echo, *Handler) {
	return newHandlerWithNCtx(2048, script)
}

func newHandlerWithNCtx(nctx int, script string) (*echo.Echo, *Handler) {
	handle := engine.NewReference(nctx, script)
	h := NewHandler(handle, 1)
	e := echo.New()
	e.Use(errs.EchoMiddleware)
	e.POST("/v1/chat/completions", h.ServeHTTP)
	return e, h
}

func post(e *echo.Echo, _ *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBufferedCompletionEndsInStop(t *testing.T) {
	t.Parallel()
	e, h := newHandler("ok")
	rec := post(e, h, `{"model":"m","messages":[{"role":"user","content":"hi"}],"temperature":0}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "ok", resp.Choices[0].Message.Content)
	require.Equal(t, "assistant", resp.Choices[0].Message.Role)
	require.Equal(t, "stop", *resp.Choices[0].FinishReason)
	require.Equal(t, 2, resp.Usage.CompletionTokens)
	require.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
}

func TestStreamingCompletionEmitsExpectedFrames(t *testing.T) {
	t.Parallel()
	e, h := newHandler("ok")
	rec := post(e, h, `{"model":"m","messages":[{"role":"user","content":"hi"}],"temperature":0,"stream":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	require.GreaterOrEqual(t, len(frames), 4, "opening delta, at least one content delta, closing delta, [DONE]")
	require.Equal(t, "data: [DONE]", frames[len(frames)-1])

	require.Contains(t, frames[0], `"object":"chat.completion"`)
	require.Contains(t, frames[0], `"role":"assistant"`)
	require.Contains(t, frames[0], `"content":""`)

	var sawContent bool
	for _, f := range frames[1 : len(frames)-2] {
		if strings.Contains(f, `"content":"o"`) || strings.Contains(f, `"content":"k"`) {
			sawContent = true
		}
	}
	require.True(t, sawContent)

	closing := frames[len(frames)-2]
	require.Contains(t, closing, `"finish_reason":"stop"`)
}

func TestIllegalRoleRejected(t *testing.T) {
	t.Parallel()
	e, h := newHandler("")
	rec := post(e, h, `{"model":"m","messages":[{"role":"bot","content":"x"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "message role not system user assistant")
}

func TestNonObjectMessageRejected(t *testing.T) {
	t.Parallel()
	e, h := newHandler("")
	rec := post(e, h, `{"model":"m","messages":["not an object"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "messages array must hold objects")
}

func TestNonStringMessageRoleRejected(t *testing.T) {
	t.Parallel()
	e, h := newHandler("")
	rec := post(e, h, `{"model":"m","messages":[{"role":1,"content":"x"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "message must have string role")
}

func TestNonStringMessageContentRejected(t *testing.T) {
	t.Parallel()
	e, h := newHandler("")
	rec := post(e, h, `{"model":"m","messages":[{"role":"user","content":1}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "message must have string content")
}

func TestMissingModelRejected(t *testing.T) {
	t.Parallel()
	e, h := newHandler("")
	rec := post(e, h, `{"messages":[{"role":"user","content":"x"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "JSON missing model string")
}

func TestWrongMethodRejected(t *testing.T) {
	t.Parallel()
	e, _ := newHandler("")
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWrongContentTypeRejected(t *testing.T) {
	t.Parallel()
	e, _ := newHandler("")
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}"))
	req.Header.Set(echo.HeaderContentType, "text/plain")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestJSONObjectResponseFormatConstrainsOutput(t *testing.T) {
	t.Parallel()
	e, h := newHandler(`{"a":1}`)
	rec := post(e, h, `{"model":"m","messages":[{"role":"user","content":"hi"}],"temperature":0,"response_format":{"type":"json_object"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	var asJSON map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Choices[0].Message.Content), &asJSON))
}

func TestTemperatureBoundaries(t *testing.T) {
	t.Parallel()
	e, h := newHandler("ok")

	ok := post(e, h, `{"model":"m","messages":[],"temperature":0}`)
	require.Equal(t, http.StatusOK, ok.Code)

	ok2 := post(e, h, `{"model":"m","messages":[],"temperature":2}`)
	require.Equal(t, http.StatusOK, ok2.Code)

	bad := post(e, h, `{"model":"m","messages":[],"temperature":-0.01}`)
	require.Equal(t, http.StatusBadRequest, bad.Code)

	bad2 := post(e, h, `{"model":"m","messages":[],"temperature":2.01}`)
	require.Equal(t, http.StatusBadRequest, bad2.Code)
}

func TestStopArrayBoundaries(t *testing.T) {
	t.Parallel()
	e, h := newHandler("ok")

	fourStops := `["` + strings.Repeat("a", 50) + `","b","c","d"]`
	ok := post(e, h, `{"model":"m","messages":[],"stop":`+fourStops+`}`)
	require.Equal(t, http.StatusOK, ok.Code)

	fiveStops := `["a","b","c","d","e"]`
	bad := post(e, h, `{"model":"m","messages":[],"stop":`+fiveStops+`}`)
	require.Equal(t, http.StatusBadRequest, bad.Code)

	tooLong := `["` + strings.Repeat("a", 51) + `"]`
	bad2 := post(e, h, `{"model":"m","messages":[],"stop":`+tooLong+`}`)
	require.Equal(t, http.StatusBadRequest, bad2.Code)
}

func TestStopStringBoundary(t *testing.T) {
	t.Parallel()
	e, h := newHandler("ok")

	ok := post(e, h, `{"model":"m","messages":[],"stop":"`+strings.Repeat("a", 50)+`"}`)
	require.Equal(t, http.StatusOK, ok.Code)

	bad := post(e, h, `{"model":"m","messages":[],"stop":"`+strings.Repeat("a", 51)+`"}`)
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestNullUnsupportedFieldAccepted(t *testing.T) {
	t.Parallel()
	e, h := newHandler("ok")
	rec := post(e, h, `{"model":"m","messages":[],"tools":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPresentUnsupportedFieldRejected(t *testing.T) {
	t.Parallel()
	e, h := newHandler("ok")
	rec := post(e, h, `{"model":"m","messages":[],"tools":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "tools field not supported")
}

func TestPromptTooLongRejected(t *testing.T) {
	t.Parallel()
	e, h := newHandlerWithNCtx(4, "ok")

	rec := post(e, h, `{"model":"m","messages":[{"role":"user","content":"abcdef"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "prompt too big for model context size")
}

func TestMaxTokensZeroEmitsNothing(t *testing.T) {
	t.Parallel()
	e, h := newHandler("ok")
	rec := post(e, h, `{"model":"m","messages":[],"max_tokens":0}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "length", *resp.Choices[0].FinishReason)
	require.Equal(t, 0, resp.Usage.CompletionTokens)
	require.Equal(t, "", resp.Choices[0].Message.Content)
}

func TestStopSequenceMatchHaltsGenerationBeforeEOG(t *testing.T) {
	t.Parallel()
	// "lo w" occurs mid-script, well before the script (and its EOG
	// token) is exhausted, so a match here can only come from the
	// configured stop sequence, not from the engine's own EOG token.
	e, h := newHandler("hello world")
	rec := post(e, h, `{"model":"m","messages":[],"temperature":0,"stop":["lo w"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "hello w", resp.Choices[0].Message.Content)
	require.Equal(t, "stop", *resp.Choices[0].FinishReason)
	require.Equal(t, 7, resp.Usage.CompletionTokens)
}

func TestStreamingConcatenationMatchesBuffered(t *testing.T) {
	t.Parallel()
	script := "hello"

	eStream, hStream := newHandler(script)
	streamRec := post(eStream, hStream, `{"model":"m","messages":[],"temperature":0,"stream":true}`)
	frames := strings.Split(strings.TrimSpace(streamRec.Body.String()), "\n\n")

	var concatenated bytes.Buffer
	for _, f := range frames {
		if f == "data: [DONE]" {
			continue
		}
		payload := strings.TrimPrefix(f, "data: ")
		var env Response
		require.NoError(t, json.Unmarshal([]byte(payload), &env))
		if env.Choices[0].Delta != nil {
			concatenated.WriteString(env.Choices[0].Delta.Content)
		}
	}

	eBuffered, hBuffered := newHandler(script)
	bufferedRec := post(eBuffered, hBuffered, `{"model":"m","messages":[],"temperature":0}`)
	var bufResp Response
	require.NoError(t, json.Unmarshal(bufferedRec.Body.Bytes(), &bufResp))

	require.Equal(t, bufResp.Choices[0].Message.Content, concatenated.String())
}
