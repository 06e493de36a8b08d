package completion

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNoJSON      = errors.New("no JSON object in completion text")
	ErrInvalidJSON = errors.New("completion text is not valid JSON")
)

// ExtractJSON pulls the first JSON object out of generated text. It unwraps
// Markdown code fences, takes the first balanced {...} span and drops
// trailing commas before a closing bracket.
func ExtractJSON(text string) (json.RawMessage, error) {
	body := stripFence(strings.TrimSpace(text))
	obj, ok := firstObject(body)
	if !ok {
		return nil, ErrNoJSON
	}
	obj = stripTrailingCommas(obj)
	if !json.Valid([]byte(obj)) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(obj), nil
}

// stripFence unwraps a code fence that opens before the first brace. Fences
// inside the object itself are string content and left alone.
func stripFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	if brace := strings.IndexByte(s, '{'); brace >= 0 && brace < start {
		return s
	}
	rest := s[start+3:]
	// Skip the language tag, if any.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// firstObject returns the first balanced object, ignoring braces in strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
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
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
