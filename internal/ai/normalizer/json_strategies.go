package normalizer

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

const maxCandidates = 64

var (
	fencePattern     = regexp.MustCompile("(?s)```[ \\t]*([A-Za-z0-9_+-]*)[ \\t]*\\r?\\n?(.*?)```")
	fenceLinePattern = regexp.MustCompile("(?m)^[ \\t]*```[A-Za-z0-9_+-]*[ \\t]*$")

	errEmptyResponse = errors.New("response is empty")
	errNoFence       = errors.New("no fenced code block")
	errNoCandidates  = errors.New("no brace-delimited candidates")
)

// parseDirect treats the whole response as one JSON document.
func parseDirect(text string, _ Options) (*Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errEmptyResponse
	}
	return decodeFeedback(trimmed)
}

// parseFenced tries every ```...``` block in order.
func parseFenced(text string, _ Options) (*Result, error) {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, errNoFence
	}
	var lastErr error
	for _, m := range matches {
		body := strings.TrimSpace(m[2])
		if body == "" {
			continue
		}
		res, err := decodeFeedback(body)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errNoFence
	}
	return nil, lastErr
}

// parseCandidates parses balanced {...} substrings, largest first, and accepts
// the first one that carries feedback keys.
func parseCandidates(text string, _ Options) (*Result, error) {
	candidates := braceCandidates(text, maxCandidates)
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	var lastErr error
	for _, c := range candidates {
		res, err := decodeFeedback(c)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func braceCandidates(text string, limit int) []string {
	var (
		found    []string
		stack    []int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			// Quotes in surrounding prose are not JSON strings.
			if len(stack) > 0 {
				inString = true
			}
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) > 0 {
				start := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				found = append(found, text[start:i+1])
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return len(found[i]) > len(found[j]) })

	seen := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, c := range found {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

// stripFences removes fence marker lines but keeps their content, which
// matters for truncated responses whose closing fence never arrived.
func stripFences(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return m[2]
	}
	return fenceLinePattern.ReplaceAllString(text, "")
}
