// Package grader turns a submission into structured feedback: it builds the
// prompt, calls the configured provider and normalizes whatever comes back.
package grader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/normalizer"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/provider"
)

const defaultRetryBudget = 8192

var tracer = otel.Tracer("github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/grader")

// ErrBlocked is returned when the provider withheld the whole answer.
var ErrBlocked = errors.New("ai provider blocked the response")

var errNoScore = errors.New("response states no overall score and the rubric cannot derive one")

type Options struct {
	Model                string
	Temperature          *float64
	MaxOutputTokens      int
	RetryMaxOutputTokens int
	MaxInputChars        int
	MaxImageDimension    int
	Stream               bool
}

type Result struct {
	Feedback     normalizer.Feedback
	Raw          string
	Strategy     string
	Fields       []string
	Provider     string
	Model        string
	FinishReason string
	Usage        provider.Usage
	Retried      bool
	ScoreDerived bool
}

type Grader interface {
	Grade(ctx context.Context, in Input) (*Result, error)
}

type grader struct {
	provider   provider.Provider
	normalizer *normalizer.Normalizer
	opts       Options
	logger     zerolog.Logger
}

func New(p provider.Provider, n *normalizer.Normalizer, opts Options, logger zerolog.Logger) Grader {
	if n == nil {
		n = normalizer.New()
	}
	return &grader{
		provider:   p,
		normalizer: n,
		opts:       opts,
		logger:     logger,
	}
}

func (g *grader) retryBudget() int {
	if g.opts.RetryMaxOutputTokens > g.opts.MaxOutputTokens {
		return g.opts.RetryMaxOutputTokens
	}
	if g.opts.MaxOutputTokens > 0 {
		return g.opts.MaxOutputTokens * 2
	}
	return defaultRetryBudget
}

// needsRetry is true only for an explicit early stop. Blocked answers are not
// retried since a bigger budget does not change the verdict.
func needsRetry(reason string) bool {
	r := provider.NormalizeFinishReason(reason)
	return r != "" && r != provider.FinishStop && r != provider.FinishSafety
}

func (g *grader) Grade(ctx context.Context, in Input) (*Result, error) {
	ctx, span := tracer.Start(ctx, "grader.grade", trace.WithAttributes(
		attribute.String("submission.id", in.SubmissionID),
		attribute.String("ai.provider", g.provider.Name()),
	))
	defer span.End()

	res, err := g.grade(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("grader.strategy", res.Strategy),
		attribute.Bool("grader.retried", res.Retried),
		attribute.Float64("grader.score", res.Feedback.Score),
		attribute.Int("ai.total_tokens", res.Usage.TotalTokens),
	)
	return res, nil
}

func (g *grader) grade(ctx context.Context, in Input) (*Result, error) {
	log := g.logger.With().Str("submission_id", in.SubmissionID).Logger()

	parts, texts := PrepareAttachments(in.Attachments, g.opts.MaxImageDimension, log)
	req := &provider.Request{
		Model:           g.opts.Model,
		System:          systemPrompt,
		Prompt:          BuildPrompt(in, texts, g.opts.MaxInputChars),
		Attachments:     parts,
		MaxOutputTokens: g.opts.MaxOutputTokens,
		Temperature:     g.opts.Temperature,
		Schema:          normalizer.Schema(),
		Stream:          g.opts.Stream,
	}

	resp, err := g.provider.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ai generation failed: %w", err)
	}
	usage := resp.Usage
	retried := false

	if needsRetry(resp.FinishReason) {
		budget := g.retryBudget()
		log.Warn().
			Str("finish_reason", resp.FinishReason).
			Int("max_output_tokens", req.MaxOutputTokens).
			Int("retry_max_output_tokens", budget).
			Msg("Generation cut short, retrying with larger budget")

		retryReq := *req
		retryReq.MaxOutputTokens = budget
		second, err := g.provider.Generate(ctx, &retryReq)
		if err != nil {
			return nil, fmt.Errorf("ai generation retry failed: %w", err)
		}
		usage = usage.Add(second.Usage)
		retried = true
		if provider.IsComplete(second.FinishReason) || len(second.Text) >= len(resp.Text) {
			resp = second
		}
	}

	if resp.FinishReason == provider.FinishSafety && strings.TrimSpace(resp.Text) == "" {
		return nil, ErrBlocked
	}

	norm, err := g.normalizer.NormalizeWithOptions(resp.Text, normalizer.Options{
		Criteria: criteriaNames(in.Criteria),
	})
	if err != nil {
		log.Error().Err(err).Int("raw_len", len(resp.Text)).Msg("AI response could not be normalized")
		return nil, fmt.Errorf("normalize ai response: %w", err)
	}

	result := &Result{
		Feedback:     norm.Feedback,
		Raw:          resp.Text,
		Strategy:     norm.Strategy,
		Fields:       norm.Fields,
		Provider:     g.provider.Name(),
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
		Usage:        usage,
		Retried:      retried,
	}

	if !norm.ScoreFound {
		score, ok := WeightedScore(norm.Feedback.CriteriaScores, in.Criteria)
		switch {
		case ok:
			result.Feedback.Score = score
			result.ScoreDerived = true
		case norm.ScoreEstimated:
			result.ScoreDerived = true
		default:
			// Ноль вместо оценки не сохраняем
			log.Error().Str("strategy", norm.Strategy).Msg("AI response has no usable score")
			return nil, fmt.Errorf("normalize ai response: %w", &normalizer.ParseError{
				Raw:      resp.Text,
				Attempts: []normalizer.Attempt{{Strategy: norm.Strategy, Err: errNoScore}},
			})
		}
	}

	log.Info().
		Str("strategy", result.Strategy).
		Float64("score", result.Feedback.Score).
		Bool("retried", retried).
		Int("total_tokens", usage.TotalTokens).
		Msg("Submission graded")

	return result, nil
}

// WeightedScore computes a 0-100 score from per-criterion scores using the
// rubric weights. Criteria without a known maximum are ignored.
func WeightedScore(scores []normalizer.CriterionScore, criteria []Criterion) (float64, bool) {
	byName := make(map[string]Criterion, len(criteria))
	for _, c := range criteria {
		byName[strings.ToLower(strings.TrimSpace(c.Name))] = c
	}

	var sum, weights float64
	for _, s := range scores {
		c, known := byName[strings.ToLower(strings.TrimSpace(s.Criterion))]
		maxScore := s.MaxScore
		if maxScore <= 0 && known {
			maxScore = c.MaxScore
		}
		if maxScore <= 0 {
			continue
		}
		weight := 1.0
		if known && c.Weight > 0 {
			weight = c.Weight
		}
		sum += math.Min(s.Score/maxScore, 1) * weight
		weights += weight
	}
	if weights == 0 {
		return 0, false
	}
	return math.Round(sum/weights*10000) / 100, true
}
