package llm

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrNoJSON is returned when a completion carries no balanced JSON value.
var ErrNoJSON = errors.New("no balanced JSON object/array found")

// ExtractJSON returns the first JSON value embedded in a model completion.
// A fenced code block (```json or ~~~) anywhere in the text wins; otherwise
// the first balanced {...} or [...] is returned, ignoring brackets that
// appear inside string literals.
func ExtractJSON(s string) (string, error) {
	s = trimBOM(strings.TrimSpace(s))

	if inner, ok := fencedBlock(s); ok {
		s = strings.TrimSpace(inner)
	}

	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if out, ok := balancedFrom(s, i); ok {
				return out, nil
			}
		}
	}
	return "", ErrNoJSON
}

// fencedBlock returns the body of the first fenced block. Blocks tagged json
// are preferred over untagged ones.
func fencedBlock(s string) (string, bool) {
	if i := strings.Index(s, "```json"); i != -1 {
		if body, ok := fenceBody(s[i:], "```"); ok {
			return body, true
		}
	}
	for _, fence := range []string{"```", "~~~"} {
		if i := strings.Index(s, fence); i != -1 {
			if body, ok := fenceBody(s[i:], fence); ok {
				return body, true
			}
		}
	}
	return "", false
}

func fenceBody(s, fence string) (string, bool) {
	rest := s[len(fence):]
	nl := strings.IndexByte(rest, '\n')
	if nl == -1 {
		return "", false
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}

// balancedFrom extracts a balanced JSON value starting at start, honouring
// string literals and escape sequences.
func balancedFrom(s string, start int) (string, bool) {
	var (
		stack    = []byte{s[start]}
		inString bool
		escape   bool
	)
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func trimBOM(s string) string {
	if strings.HasPrefix(s, "\uFEFF") {
		return strings.TrimPrefix(s, "\uFEFF")
	}
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF && utf8.ValidString(s[3:]) {
		return s[3:]
	}
	return s
}
