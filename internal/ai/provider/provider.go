// Package provider talks to generative-AI HTTP APIs and hides their request
// and response shapes behind a single Generate call.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const (
	NameGemini = "gemini"
	NameOpenAI = "openai"
)

// Normalized finish reasons.
const (
	FinishStop    = "stop"
	FinishLength  = "length"
	FinishSafety  = "safety"
	FinishRefusal = "refusal"
	FinishOther   = "other"
)

var tracer = otel.Tracer("github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/provider")

var (
	ErrEmptyResponse = errors.New("provider returned no content")
	ErrRefused       = errors.New("provider refused to answer")
	ErrUnknown       = errors.New("unknown ai provider")
)

type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
	// URI is set once the attachment has been uploaded through a provider file API.
	URI string
}

type Request struct {
	Model           string
	System          string
	Prompt          string
	Attachments     []Attachment
	MaxOutputTokens int
	Temperature     *float64
	// Schema is a JSON Schema for the expected output; each provider prunes it
	// to what its API accepts.
	Schema map[string]any
	Stream bool
}

type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens: u.PromptTokens + o.PromptTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

type Response struct {
	Text         string
	FinishReason string
	Model        string
	Usage        Usage
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api returned status %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 512))
}

func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether a later attempt could succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// NormalizeFinishReason maps provider specific values onto the Finish* set.
func NormalizeFinishReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "stop", "end_turn", "stop_sequence", "finish_reason_stop":
		return FinishStop
	case "length", "max_tokens", "max_output_tokens":
		return FinishLength
	case "safety", "content_filter", "blocklist", "prohibited_content", "spii", "recitation":
		return FinishSafety
	case "refusal":
		return FinishRefusal
	case "", "finish_reason_unspecified":
		return ""
	default:
		return FinishOther
	}
}

// IsComplete reports whether generation ended normally.
func IsComplete(reason string) bool {
	return NormalizeFinishReason(reason) == FinishStop
}

type Config struct {
	Provider              string
	APIKey                string
	BaseURL               string
	Model                 string
	Timeout               time.Duration
	InlineAttachmentLimit int64
}

// New returns the provider named in cfg.
func New(cfg Config, logger zerolog.Logger) (Provider, error) {
	client := newHTTPClient(cfg.Timeout)
	switch strings.ToLower(cfg.Provider) {
	case NameGemini:
		return NewGemini(cfg, client, logger), nil
	case NameOpenAI:
		return NewOpenAI(cfg, client, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknown, cfg.Provider)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// isEmpty reports a response with no text that was not cut off or blocked.
func isEmpty(r *Response) bool {
	return r.Text == "" && (r.FinishReason == "" || r.FinishReason == FinishStop)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func isImage(mime string) bool {
	return strings.HasPrefix(strings.ToLower(mime), "image/")
}
