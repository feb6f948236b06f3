package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	openAISchemaName     = "feedback"
)

type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  zerolog.Logger
}

func NewOpenAI(cfg Config, client *http.Client, logger zerolog.Logger) *OpenAI {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		client:  client,
		logger:  logger.With().Str("provider", NameOpenAI).Logger(),
	}
}

func (o *OpenAI) Name() string { return NameOpenAI }

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIFile struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
	File     *openAIFile     `json:"file,omitempty"`
}

type openAIMessage struct {
	Role string `json:"role"`
	// Content is either a string or a []openAIContentPart.
	Content any `json:"content"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    *float64              `json:"temperature,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
	Stream         bool                  `json:"stream,omitempty"`
	StreamOptions  *openAIStreamOptions  `json:"stream_options,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIResponseMessage struct {
	Content json.RawMessage `json:"content"`
	Refusal string          `json:"refusal"`
}

type openAIChoice struct {
	Message      openAIResponseMessage `json:"message"`
	Delta        openAIResponseMessage `json:"delta"`
	Text         string                `json:"text"`
	FinishReason *string               `json:"finish_reason"`
}

type openAIResponse struct {
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// contentText accepts a plain string or an array of text parts.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" || p.Type == "output_text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (u *openAIUsage) toUsage() Usage {
	out := Usage{
		PromptTokens: u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.OutputTokens
	}
	return out
}

func (o *OpenAI) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	ctx, span := tracer.Start(ctx, "openai.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.model", model),
		attribute.Int("ai.max_output_tokens", req.MaxOutputTokens),
		attribute.Bool("ai.stream", req.Stream),
		attribute.Int("ai.attachments", len(req.Attachments)),
	)

	resp, err := o.generate(ctx, model, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("ai.finish_reason", resp.FinishReason),
		attribute.Int("ai.total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

func (o *OpenAI) buildRequest(model string, req *Request) openAIRequest {
	var messages []openAIMessage
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}

	if len(req.Attachments) == 0 {
		messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})
	} else {
		parts := []openAIContentPart{{Type: "text", Text: req.Prompt}}
		for _, att := range req.Attachments {
			dataURL := fmt.Sprintf("data:%s;base64,%s", att.MIMEType, base64.StdEncoding.EncodeToString(att.Data))
			if isImage(att.MIMEType) {
				parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}})
				continue
			}
			parts = append(parts, openAIContentPart{Type: "file", File: &openAIFile{Filename: att.Name, FileData: dataURL}})
		}
		messages = append(messages, openAIMessage{Role: "user", Content: parts})
	}

	body := openAIRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
	}
	if req.Schema != nil {
		body.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIJSONSchema{
				Name:   openAISchemaName,
				Strict: true,
				Schema: StrictSchema(req.Schema),
			},
		}
	}
	if req.Stream {
		body.Stream = true
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	return body
}

func (o *OpenAI) generate(ctx context.Context, model string, req *Request) (*Response, error) {
	payload, err := json.Marshal(o.buildRequest(model, req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
		return nil, &APIError{Provider: NameOpenAI, StatusCode: httpResp.StatusCode, Body: string(data)}
	}

	var out *Response
	if req.Stream {
		out, err = o.readStream(httpResp.Body)
	} else {
		out, err = o.readResponse(httpResp.Body)
	}
	if err != nil {
		return nil, err
	}
	if out.Model == "" {
		out.Model = model
	}

	o.logger.Debug().
		Str("model", out.Model).
		Str("finish_reason", out.FinishReason).
		Int("total_tokens", out.Usage.TotalTokens).
		Int("text_len", len(out.Text)).
		Msg("OpenAI generation finished")

	return out, nil
}

func (o *OpenAI) readResponse(r io.Reader) (*Response, error) {
	var raw openAIResponse
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode openai response: %w", err)
	}
	if raw.Error != nil {
		return nil, &APIError{Provider: NameOpenAI, StatusCode: http.StatusBadGateway, Body: raw.Error.Message}
	}
	if len(raw.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := raw.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	}

	out := &Response{Model: raw.Model}
	out.Text = contentText(choice.Message.Content)
	if out.Text == "" {
		out.Text = choice.Text
	}
	if choice.FinishReason != nil {
		out.FinishReason = NormalizeFinishReason(*choice.FinishReason)
	}
	if raw.Usage != nil {
		out.Usage = raw.Usage.toUsage()
	}
	if isEmpty(out) {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

func (o *OpenAI) readStream(r io.Reader) (*Response, error) {
	out := &Response{}
	var text, refusal strings.Builder

	err := readSSE(r, func(data []byte) error {
		var chunk openAIResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("failed to decode openai stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return &APIError{Provider: NameOpenAI, StatusCode: http.StatusBadGateway, Body: chunk.Error.Message}
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		// include_usage sends a final chunk with empty choices.
		if chunk.Usage != nil {
			out.Usage = chunk.Usage.toUsage()
		}
		for _, choice := range chunk.Choices {
			text.WriteString(contentText(choice.Delta.Content))
			text.WriteString(choice.Text)
			refusal.WriteString(choice.Delta.Refusal)
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				out.FinishReason = NormalizeFinishReason(*choice.FinishReason)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if refusal.Len() > 0 {
		return nil, fmt.Errorf("%w: %s", ErrRefused, refusal.String())
	}
	out.Text = text.String()
	if isEmpty(out) {
		return nil, ErrEmptyResponse
	}
	return out, nil
}
