package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string", "minLength": 1},
			"score":   map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			"title":   map[string]any{"type": "string"},
			"criteria_scores": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"criterion": map[string]any{"type": "string"},
						"score":     map[string]any{"type": "number"},
					},
					"required": []any{"criterion"},
				},
			},
		},
		"required":             []any{"summary", "score"},
		"additionalProperties": false,
	}
}

func newTestGemini(t *testing.T, h http.HandlerFunc, inlineLimit int64) *Gemini {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGemini(Config{
		APIKey:                "test-key",
		BaseURL:               srv.URL,
		Model:                 "gemini-test",
		InlineAttachmentLimit: inlineLimit,
	}, srv.Client(), zerolog.Nop())
}

func newTestOpenAI(t *testing.T, h http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"}, srv.Client(), zerolog.Nop())
}

func TestGemini_GenerateContent(t *testing.T) {
	var captured map[string]any
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		fmt.Fprint(w, `{
			"candidates": [{
				"content": {"parts": [{"text": "thinking", "thought": true}, {"text": "{\"summary\":"}, {"text": "\"ok\"}"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15},
			"modelVersion": "gemini-test-001"
		}`)
	}, 0)

	resp, err := g.Generate(context.Background(), &Request{
		System:          "You grade essays.",
		Prompt:          "Grade this",
		MaxOutputTokens: 256,
		Schema:          testSchema(),
		Attachments:     []Attachment{{Name: "a.png", MIMEType: "image/png", Data: []byte("png")}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, resp.Text)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.True(t, IsComplete(resp.FinishReason))
	assert.Equal(t, Usage{PromptTokens: 10, OutputTokens: 5, TotalTokens: 15}, resp.Usage)
	assert.Equal(t, "gemini-test-001", resp.Model)

	gen := captured["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	assert.EqualValues(t, 256, gen["maxOutputTokens"])
	schema := gen["responseSchema"].(map[string]any)
	assert.Equal(t, "OBJECT", schema["type"])
	assert.NotContains(t, schema, "additionalProperties")
	assert.NotContains(t, schema, "$schema")
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "title", "property names survive pruning")
	assert.NotContains(t, props["score"], "minimum")

	contents := captured["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/png", inline["mimeType"])
	assert.Equal(t, "cG5n", inline["data"])
	assert.NotNil(t, captured["systemInstruction"])
}

func TestGemini_ResponseShapeVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "candidate output", body: `{"candidates":[{"output":"A","finishReason":"STOP"}]}`, want: "A"},
		{name: "candidate text", body: `{"candidates":[{"text":"B","finish_reason":"STOP"}]}`, want: "B"},
		{name: "content as string", body: `{"candidates":[{"content":"C","finishReason":"STOP"}]}`, want: "C"},
		{name: "top level text", body: `{"text":"D"}`, want: "D"},
		{name: "response wrapper", body: `{"response":{"candidates":[{"content":{"parts":[{"text":"E"}]},"finishReason":"STOP"}]},"usage_metadata":{"prompt_token_count":1,"candidates_token_count":2}}`, want: "E"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}, 0)
			resp, err := g.Generate(context.Background(), &Request{Prompt: "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Text)
		})
	}
}

func TestGemini_ResponseWrapperCarriesUsage(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"candidates":[{"content":{"parts":[{"text":"E"}]},"finishReason":"MAX_TOKENS"}]},"usage_metadata":{"prompt_token_count":1,"candidates_token_count":2}}`)
	}, 0)
	resp, err := g.Generate(context.Background(), &Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, FinishLength, resp.FinishReason)
	assert.False(t, IsComplete(resp.FinishReason))
	assert.Equal(t, Usage{PromptTokens: 1, OutputTokens: 2, TotalTokens: 3}, resp.Usage)
}

func TestGemini_Stream(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"}]},\"finishReason\":\"MAX_TOKENS\"}],\"usageMetadata\":{\"promptTokenCount\":3,\"candidatesTokenCount\":4,\"totalTokenCount\":7}}\n\n")
	}, 0)

	resp, err := g.Generate(context.Background(), &Request{Prompt: "x", Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, FinishLength, resp.FinishReason)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestGemini_LargeAttachmentUsesFilesAPI(t *testing.T) {
	var uploaded []byte
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload/v1beta/files":
			assert.Equal(t, "raw", r.Header.Get("X-Goog-Upload-Protocol"))
			assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
			uploaded, _ = io.ReadAll(r.Body)
			fmt.Fprint(w, `{"file":{"name":"files/abc","uri":"https://files.example/abc","mimeType":"application/pdf"}}`)
		default:
			var body geminiRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			parts := body.Contents[0].Parts
			require.Len(t, parts, 2)
			require.NotNil(t, parts[1].FileData)
			assert.Equal(t, "https://files.example/abc", parts[1].FileData.FileURI)
			assert.Nil(t, parts[1].InlineData)
			fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`)
		}
	}, 4)

	resp, err := g.Generate(context.Background(), &Request{
		Prompt:      "x",
		Attachments: []Attachment{{Name: "essay.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-1.7")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, "%PDF-1.7", string(uploaded))
}

func TestGemini_ErrorStatus(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}, 0)

	_, err := g.Generate(context.Background(), &Request{Prompt: "x"})
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.True(t, IsRetryable(err))
}

func TestGemini_EmptyResponse(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}, 0)
	_, err := g.Generate(context.Background(), &Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAI_ChatCompletion(t *testing.T) {
	var captured map[string]any
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{
			"model": "gpt-test-2024",
			"choices": [{"message": {"content": [{"type": "output_text", "text": "{\"a\":"}, {"type": "text", "text": "1}"}]}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 8, "total_tokens": 28}
		}`)
	})

	resp, err := o.Generate(context.Background(), &Request{
		System:      "sys",
		Prompt:      "grade",
		Schema:      testSchema(),
		Attachments: []Attachment{{Name: "p.jpg", MIMEType: "image/jpeg", Data: []byte("jpg")}, {Name: "e.pdf", MIMEType: "application/pdf", Data: []byte("pdf")}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Text)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 20, OutputTokens: 8, TotalTokens: 28}, resp.Usage)
	assert.Equal(t, "gpt-test-2024", resp.Model)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "sys", messages[0].(map[string]any)["content"])
	parts := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 3)
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
	assert.Equal(t, "file", parts[2].(map[string]any)["type"])

	format := captured["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	js := format["json_schema"].(map[string]any)
	assert.Equal(t, true, js["strict"])
	schema := js["schema"].(map[string]any)
	assert.Equal(t, false, schema["additionalProperties"])
	assert.ElementsMatch(t, []any{"criteria_scores", "score", "summary", "title"}, schema["required"])
}

func TestOpenAI_Stream(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, map[string]any{"include_usage": true}, body["stream_options"])

		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"{\\\"summary\\\"\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\": \\\"fine\\\"}\"},\"finish_reason\":\"length\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":6,\"total_tokens\":11}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	resp, err := o.Generate(context.Background(), &Request{Prompt: "x", Stream: true})
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "fine"}`, resp.Text)
	assert.Equal(t, FinishLength, resp.FinishReason)
	assert.Equal(t, 11, resp.Usage.TotalTokens)
}

func TestOpenAI_Refusal(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":null,"refusal":"I can't help with that."},"finish_reason":"stop"}]}`)
	})
	_, err := o.Generate(context.Background(), &Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrRefused)
	assert.False(t, IsRetryable(err))
}

func TestOpenAI_RateLimited(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := o.Generate(context.Background(), &Request{Prompt: "x"})
	assert.True(t, IsRetryable(err))

	o = newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err = o.Generate(context.Background(), &Request{Prompt: "x"})
	assert.False(t, IsRetryable(err))
}

func TestStrictSchema(t *testing.T) {
	in := testSchema()
	out := StrictSchema(in)

	assert.NotContains(t, out, "$schema")
	props := out["properties"].(map[string]any)
	assert.Equal(t, []any{"string", "null"}, props["title"].(map[string]any)["type"])
	assert.Equal(t, "string", props["summary"].(map[string]any)["type"])
	assert.NotContains(t, props["summary"], "minLength")

	items := props["criteria_scores"].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, false, items["additionalProperties"])
	assert.Equal(t, []any{"criterion", "score"}, items["required"])
	assert.Equal(t, []any{"number", "null"}, items["properties"].(map[string]any)["score"].(map[string]any)["type"])

	assert.Equal(t, []any{"summary", "score"}, in["required"])
	assert.NotContains(t, in["properties"].(map[string]any)["criteria_scores"].(map[string]any)["items"], "additionalProperties")
}

func TestPruneSchema_DeepCopy(t *testing.T) {
	in := testSchema()
	out := PruneSchema(in, []string{"minimum"})
	out["properties"].(map[string]any)["summary"].(map[string]any)["type"] = "integer"

	assert.Equal(t, "string", in["properties"].(map[string]any)["summary"].(map[string]any)["type"])
	assert.Contains(t, in["properties"].(map[string]any)["score"], "minimum")
	assert.NotContains(t, out["properties"].(map[string]any)["score"], "minimum")
}

func TestReadSSE(t *testing.T) {
	stream := "event: message\ndata: first\ndata: second\n\n:comment\ndata: third\n\ndata: [DONE]\n\ndata: never\n\n"
	var got []string
	err := readSSE(strings.NewReader(stream), func(data []byte) error {
		got = append(got, string(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first\nsecond", "third"}, got)
}

func TestReadSSE_LongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	var got string
	err := readSSE(strings.NewReader("data: "+long), func(data []byte) error {
		got = string(data)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, len(long))
}

func TestNormalizeFinishReason(t *testing.T) {
	tests := map[string]string{
		"STOP":                      FinishStop,
		"end_turn":                  FinishStop,
		"MAX_TOKENS":                FinishLength,
		"length":                    FinishLength,
		"SAFETY":                    FinishSafety,
		"content_filter":            FinishSafety,
		"FINISH_REASON_UNSPECIFIED": "",
		"MALFORMED_FUNCTION_CALL":   FinishOther,
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeFinishReason(in), in)
	}
}

func TestNew(t *testing.T) {
	p, err := New(Config{Provider: "Gemini"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, NameGemini, p.Name())

	p, err = New(Config{Provider: "openai"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, NameOpenAI, p.Name())

	_, err = New(Config{Provider: "claude"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnknown)
}
