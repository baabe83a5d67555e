package llmsession

import (
	"regexp"
	"strings"
)

// prefillSeed is injected as the assistant's opening content to force the
// completion to continue directly as a JSON object, skipping any
// conversational preamble the model would otherwise produce.
const prefillSeed = "{"

// reassemble prepends the prefill seed to the raw completion text, since the
// provider only returns what the model generated after the seed.
func reassemble(completion string) string {
	return prefillSeed + completion
}

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// repair applies a deterministic best-effort cleanup pass to a reassembled
// completion that failed to parse as JSON: strip fenced code blocks the
// model may have wrapped the object in, drop trailing commentary after the
// last balanced closing brace, and escape stray literal control characters
// inside string values that break strict JSON parsing.
func repair(s string) string {
	s = stripFences(s)
	s = truncateAfterLastBalancedBrace(s)
	s = escapeStrayControlChars(s)
	return s
}

func stripFences(s string) string {
	if m := fencedBlockPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// truncateAfterLastBalancedBrace scans for the first '{' and keeps text
// through the matching '}' that brings the brace depth back to zero,
// discarding any trailing commentary the model appended after the JSON
// object. Braces inside string literals are not counted as structural.
func truncateAfterLastBalancedBrace(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	depth := 0
	inString := false
	escaped := false
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
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// escapeStrayControlChars escapes unescaped literal newlines, carriage
// returns, and tabs that occur inside string literals — models frequently
// emit these raw inside multi-line scratchpad/analysis fields, which is
// invalid per strict JSON.
func escapeStrayControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				b.WriteByte(c)
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
				b.WriteByte(c)
			case '"':
				inString = false
				b.WriteByte(c)
			case '\n':
				b.WriteString("\\n")
			case '\r':
				b.WriteString("\\r")
			case '\t':
				b.WriteString("\\t")
			default:
				b.WriteByte(c)
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}
