package normalizer

import (
	"errors"
	"regexp"
	"strings"
)

const maxRepairCuts = 48

var (
	trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)
	bareKeyPattern       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)(\s*:)`)
	pythonLiteralPattern = regexp.MustCompile(`\b(True|False|None)\b`)

	errNoObject = errors.New("no opening brace")
)

// parseRepaired fixes the usual ways model JSON breaks: truncation, bare keys,
// trailing commas and Python literals. When the closed-up document still does
// not parse, trailing elements are dropped one by one until it does.
func parseRepaired(text string, _ Options) (*Result, error) {
	body := stripFences(text)
	start := strings.IndexByte(body, '{')
	if start < 0 {
		return nil, errNoObject
	}
	body = normalizeJSONish(body[start:])

	lastErr := errors.New("truncated inside a value")
	for i, cut := range repairCuts(body) {
		if i == maxRepairCuts {
			break
		}
		// Обрезанное число или литерал не закрываем, выкидываем весь член
		if cut == len(body) && endsInBareScalar(body) {
			continue
		}
		res, err := decodeFeedback(closeStructure(body[:cut]))
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func normalizeJSONish(s string) string {
	if !strings.Contains(s, `"`) && strings.Contains(s, "'") {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	return mapOutsideStrings(s, func(seg string) string {
		seg = bareKeyPattern.ReplaceAllString(seg, `$1"$2"$3`)
		seg = trailingCommaPattern.ReplaceAllString(seg, "$1")
		return pythonLiteralPattern.ReplaceAllStringFunc(seg, func(lit string) string {
			switch lit {
			case "True":
				return "true"
			case "False":
				return "false"
			default:
				return "null"
			}
		})
	})
}

// mapOutsideStrings applies fn to every segment that is not inside a JSON
// string literal and copies string literals verbatim.
func mapOutsideStrings(s string, fn func(string) string) string {
	var (
		b        strings.Builder
		segStart int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				b.WriteString(s[segStart : i+1])
				segStart = i + 1
			}
			continue
		}
		if c == '"' {
			b.WriteString(fn(s[segStart:i]))
			segStart = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[segStart:])
	} else {
		b.WriteString(fn(s[segStart:]))
	}
	return b.String()
}

// repairCuts returns prefix lengths to try, longest first: the whole body and
// then every position just before a top-level-or-nested comma.
func repairCuts(s string) []int {
	cuts := []int{len(s)}
	inString, escaped := false, false
	var commas []int
	for i := 0; i < len(s); i++ {
		c := s[i]
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
			inString = true
		case ',':
			commas = append(commas, i)
		}
	}
	for i := len(commas) - 1; i >= 0; i-- {
		cuts = append(cuts, commas[i])
	}
	return cuts
}

// closeStructure terminates an open string, drops a dangling comma or colon,
// inserts closers for mismatched brackets and appends the missing ones.
func closeStructure(s string) string {
	var (
		b        strings.Builder
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			idx := lastIndexByte(stack, c)
			if idx < 0 {
				continue
			}
			for len(stack)-1 > idx {
				b.WriteByte(stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			stack = stack[:idx]
		}
		b.WriteByte(c)
	}

	out := b.String()
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}
	out = strings.TrimRight(out, " \t\r\n")
	for strings.HasSuffix(out, ",") || strings.HasSuffix(out, ":") {
		out = strings.TrimRight(out[:len(out)-1], " \t\r\n")
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

// endsInBareScalar reports whether s stops inside a number or a
// true/false/null literal, where the value itself may have been cut short.
// A cut-off string is not a bare scalar.
func endsInBareScalar(s string) bool {
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		}
	}
	if inString || s == "" {
		return false
	}
	c := s[len(s)-1]
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		c == '.' || c == '-' || c == '+'
}

func lastIndexByte(stack []byte, c byte) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == c {
			return i
		}
	}
	return -1
}
