// Package normalizer turns raw generative-AI output into Feedback. It runs an
// ordered chain of parsers, from a strict JSON decode down to prose
// extraction, and stops at the first one that succeeds.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Strategy names, in the order they are tried.
const (
	StrategyDirect     = "direct"
	StrategyFenced     = "fenced"
	StrategyCandidates = "candidates"
	StrategyRepair     = "repair"
	StrategySections   = "sections"
)

var ErrUnparseable = errors.New("ai response could not be parsed")

type Options struct {
	// Criteria are rubric criterion names, used to pick per-criterion scores out of prose.
	Criteria []string
}

type ParseFunc func(text string, opts Options) (*Result, error)

type Strategy struct {
	Name  string
	Parse ParseFunc
}

type Attempt struct {
	Strategy string
	Err      error
}

// ParseError is returned when every strategy failed. Raw keeps the original
// response for operators.
type ParseError struct {
	Raw      string
	Attempts []Attempt
}

func (e *ParseError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return fmt.Sprintf("%s (%s)", ErrUnparseable.Error(), strings.Join(parts, "; "))
}

func (e *ParseError) Unwrap() error { return ErrUnparseable }

// Strategies returns the default parser chain.
func Strategies() []Strategy {
	return []Strategy{
		{Name: StrategyDirect, Parse: parseDirect},
		{Name: StrategyFenced, Parse: parseFenced},
		{Name: StrategyCandidates, Parse: parseCandidates},
		{Name: StrategyRepair, Parse: parseRepaired},
		{Name: StrategySections, Parse: parseSections},
	}
}

type Normalizer struct {
	strategies []Strategy
	schema     *gojsonschema.Schema
}

func New() *Normalizer {
	return NewWithStrategies(Strategies())
}

func NewWithStrategies(strategies []Strategy) *Normalizer {
	return &Normalizer{
		strategies: strategies,
		schema:     feedbackSchema,
	}
}

func (n *Normalizer) Normalize(text string) (*Result, error) {
	return n.NormalizeWithOptions(text, Options{})
}

func (n *Normalizer) NormalizeWithOptions(text string, opts Options) (*Result, error) {
	attempts := make([]Attempt, 0, len(n.strategies))
	for _, s := range n.strategies {
		res, err := s.Parse(text, opts)
		if err == nil {
			err = n.validate(res)
		}
		if err != nil {
			attempts = append(attempts, Attempt{Strategy: s.Name, Err: err})
			continue
		}
		res.Strategy = s.Name
		return res, nil
	}
	return nil, &ParseError{Raw: text, Attempts: attempts}
}

func (n *Normalizer) validate(res *Result) error {
	if res == nil {
		return errors.New("strategy returned no result")
	}
	data, err := json.Marshal(res.Feedback)
	if err != nil {
		return fmt.Errorf("failed to encode feedback: %w", err)
	}
	result, err := n.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate feedback: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("feedback does not match schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
