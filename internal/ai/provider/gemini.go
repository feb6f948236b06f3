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
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultInlineLimit   = 15 << 20
	geminiResponseMIME   = "application/json"
	geminiUploadProtocol = "raw"
	geminiAPIKeyHeader   = "x-goog-api-key"
)

type Gemini struct {
	apiKey      string
	baseURL     string
	model       string
	inlineLimit int64
	client      *http.Client
	logger      zerolog.Logger
}

func NewGemini(cfg Config, client *http.Client, logger zerolog.Logger) *Gemini {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	limit := cfg.InlineAttachmentLimit
	if limit <= 0 {
		limit = defaultInlineLimit
	}
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}
	return &Gemini{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		inlineLimit: limit,
		client:      client,
		logger:      logger.With().Str("provider", NameGemini).Logger(),
	}
}

func (g *Gemini) Name() string { return NameGemini }

type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlob     `json:"inlineData,omitempty"`
	FileData   *geminiFileData `json:"fileData,omitempty"`
	Thought    bool            `json:"thought,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiUsageSnake struct {
	PromptTokenCount     int `json:"prompt_token_count"`
	CandidatesTokenCount int `json:"candidates_token_count"`
	TotalTokenCount      int `json:"total_token_count"`
}

type geminiCandidate struct {
	Content           json.RawMessage `json:"content"`
	Output            string          `json:"output"`
	Text              string          `json:"text"`
	FinishReason      string          `json:"finishReason"`
	FinishReasonSnake string          `json:"finish_reason"`
}

// geminiResponse accepts the shapes returned by the REST API and by the
// various SDK serializations of it.
type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	Text           string            `json:"text"`
	UsageMetadata  *geminiUsage      `json:"usageMetadata"`
	UsageSnake     *geminiUsageSnake `json:"usage_metadata"`
	ModelVersion   string            `json:"modelVersion"`
	Response       *geminiResponse   `json:"response"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (r *geminiResponse) unwrap() *geminiResponse {
	for depth := 0; r.Response != nil && len(r.Candidates) == 0 && r.Text == "" && depth < 3; depth++ {
		inner := r.Response
		if inner.UsageMetadata == nil && inner.UsageSnake == nil {
			inner.UsageMetadata, inner.UsageSnake = r.UsageMetadata, r.UsageSnake
		}
		r = inner
	}
	return r
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return r.Text
	}
	c := r.Candidates[0]
	if len(c.Content) > 0 {
		var s string
		if err := json.Unmarshal(c.Content, &s); err == nil && s != "" {
			return s
		}
		var content geminiContent
		if err := json.Unmarshal(c.Content, &content); err == nil {
			var b strings.Builder
			for _, p := range content.Parts {
				if p.Thought {
					continue
				}
				b.WriteString(p.Text)
			}
			if b.Len() > 0 {
				return b.String()
			}
		}
	}
	if c.Output != "" {
		return c.Output
	}
	if c.Text != "" {
		return c.Text
	}
	return r.Text
}

func (r *geminiResponse) finishReason() string {
	if len(r.Candidates) == 0 {
		if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
			return FinishSafety
		}
		return ""
	}
	c := r.Candidates[0]
	if c.FinishReason != "" {
		return NormalizeFinishReason(c.FinishReason)
	}
	return NormalizeFinishReason(c.FinishReasonSnake)
}

func (r *geminiResponse) usage() (Usage, bool) {
	switch {
	case r.UsageMetadata != nil:
		u := r.UsageMetadata
		out := Usage{
			PromptTokens: u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount + u.ThoughtsTokenCount,
			TotalTokens:  u.TotalTokenCount,
		}
		if out.TotalTokens == 0 {
			out.TotalTokens = out.PromptTokens + out.OutputTokens
		}
		return out, true
	case r.UsageSnake != nil:
		u := r.UsageSnake
		out := Usage{
			PromptTokens: u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount,
			TotalTokens:  u.TotalTokenCount,
		}
		if out.TotalTokens == 0 {
			out.TotalTokens = out.PromptTokens + out.OutputTokens
		}
		return out, true
	}
	return Usage{}, false
}

func (g *Gemini) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.model", model),
		attribute.Int("ai.max_output_tokens", req.MaxOutputTokens),
		attribute.Bool("ai.stream", req.Stream),
		attribute.Int("ai.attachments", len(req.Attachments)),
	)

	resp, err := g.generate(ctx, model, req)
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

func (g *Gemini) generate(ctx context.Context, model string, req *Request) (*Response, error) {
	parts := []geminiPart{{Text: req.Prompt}}
	for _, att := range req.Attachments {
		part, err := g.attachmentPart(ctx, att)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.Schema != nil {
		body.GenerationConfig.ResponseMIMEType = geminiResponseMIME
		body.GenerationConfig.ResponseSchema = GeminiSchema(req.Schema)
	}

	method := "generateContent"
	if req.Stream {
		method = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:%s", g.baseURL, model, method)
	if req.Stream {
		url += "?alt=sse"
	}

	httpResp, err := g.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var out *Response
	if req.Stream {
		out, err = g.readStream(httpResp.Body)
	} else {
		out, err = g.readResponse(httpResp.Body)
	}
	if err != nil {
		return nil, err
	}
	if out.Model == "" {
		out.Model = model
	}

	g.logger.Debug().
		Str("model", out.Model).
		Str("finish_reason", out.FinishReason).
		Int("total_tokens", out.Usage.TotalTokens).
		Int("text_len", len(out.Text)).
		Msg("Gemini generation finished")

	return out, nil
}

func (g *Gemini) post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(geminiAPIKeyHeader, g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &APIError{Provider: NameGemini, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}

func (g *Gemini) readResponse(r io.Reader) (*Response, error) {
	var raw geminiResponse
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if raw.Error != nil {
		return nil, &APIError{Provider: NameGemini, StatusCode: raw.Error.Code, Body: raw.Error.Message}
	}
	res := raw.unwrap()

	out := &Response{
		Text:         res.text(),
		FinishReason: res.finishReason(),
		Model:        res.ModelVersion,
	}
	out.Usage, _ = res.usage()
	if isEmpty(out) {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

// readStream concatenates chunk texts. The finish reason and usage of the last
// chunk that carries them win.
func (g *Gemini) readStream(r io.Reader) (*Response, error) {
	out := &Response{}
	var text strings.Builder
	chunks := 0

	err := readSSE(r, func(data []byte) error {
		var chunk geminiResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("failed to decode gemini stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return &APIError{Provider: NameGemini, StatusCode: chunk.Error.Code, Body: chunk.Error.Message}
		}
		c := chunk.unwrap()
		chunks++
		text.WriteString(c.text())
		if reason := c.finishReason(); reason != "" {
			out.FinishReason = reason
		}
		if u, ok := c.usage(); ok {
			out.Usage = u
		}
		if c.ModelVersion != "" {
			out.Model = c.ModelVersion
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.Text = text.String()
	g.logger.Debug().Int("chunks", chunks).Msg("Gemini stream drained")
	if isEmpty(out) {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

func (g *Gemini) attachmentPart(ctx context.Context, att Attachment) (geminiPart, error) {
	if att.URI != "" {
		return geminiPart{FileData: &geminiFileData{MIMEType: att.MIMEType, FileURI: att.URI}}, nil
	}
	if int64(len(att.Data)) <= g.inlineLimit {
		return geminiPart{InlineData: &geminiBlob{
			MIMEType: att.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(att.Data),
		}}, nil
	}

	uri, err := g.UploadFile(ctx, att)
	if err != nil {
		return geminiPart{}, err
	}
	return geminiPart{FileData: &geminiFileData{MIMEType: att.MIMEType, FileURI: uri}}, nil
}

type geminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
}

// UploadFile sends the attachment through the Files API and returns its URI.
func (g *Gemini) UploadFile(ctx context.Context, att Attachment) (string, error) {
	url := fmt.Sprintf("%s/upload/v1beta/files", g.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(att.Data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", att.MIMEType)
	httpReq.Header.Set("X-Goog-Upload-Protocol", geminiUploadProtocol)
	httpReq.Header.Set(geminiAPIKeyHeader, g.apiKey)
	if att.Name != "" {
		httpReq.Header.Set("X-Goog-Upload-File-Name", att.Name)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", &APIError{Provider: NameGemini, StatusCode: resp.StatusCode, Body: string(data)}
	}

	var uploaded struct {
		File geminiFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if uploaded.File.URI == "" {
		return "", fmt.Errorf("gemini upload returned no file uri")
	}

	g.logger.Info().
		Str("file", uploaded.File.Name).
		Str("mime_type", att.MIMEType).
		Int("size", len(att.Data)).
		Msg("Attachment uploaded to Gemini Files API")

	return uploaded.File.URI, nil
}
