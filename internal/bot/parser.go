// Package bot implements the dialog engine: intent routing, prompt
// assembly, answer parsing, and the per-turn orchestration service.
package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/iteaky/carbot/internal/domain"
)

// ErrUnparsable marks model output no structured answer could be recovered
// from. Callers treat any parse failure the same way, but tests and logs
// can branch on it with errors.Is.
var ErrUnparsable = errors.New("unparsable bot answer")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// AnswerParser extracts a BotAnswer from raw model output. The model is
// told to return a single JSON object, but in practice wraps it in prose,
// code fences, a bare "json" token, or emits raw control characters inside
// string values; every stage of the pipeline is best-effort.
type AnswerParser struct{}

// NewAnswerParser creates a parser.
func NewAnswerParser() *AnswerParser {
	return &AnswerParser{}
}

// Parse recovers a structured answer from raw model output. When the first
// decode fails, a single repair pass escapes raw control characters inside
// string literals and the decode is retried once; if the repair changed
// nothing the original failure is returned.
func (p *AnswerParser) Parse(content string) (domain.BotAnswer, error) {
	normalized := normalizeContent(content)

	answer, err := decodeAnswer(normalized)
	if err == nil {
		return answer, nil
	}

	repaired := escapeControlCharsInStrings(normalized)
	if repaired == normalized {
		return domain.BotAnswer{}, err
	}

	return decodeAnswer(repaired)
}

func decodeAnswer(s string) (domain.BotAnswer, error) {
	var answer domain.BotAnswer
	if err := json.Unmarshal([]byte(s), &answer); err != nil {
		return domain.BotAnswer{}, fmt.Errorf("%w: %w", ErrUnparsable, err)
	}
	if answer.Reply == "" {
		return domain.BotAnswer{}, fmt.Errorf("%w: missing reply field", ErrUnparsable)
	}
	return answer, nil
}

func normalizeContent(content string) string {
	normalized := strings.TrimSpace(content)

	if m := fencedBlock.FindStringSubmatch(normalized); m != nil {
		normalized = strings.TrimSpace(m[1])
	}

	normalized = stripJSONPrefix(normalized)
	return extractFirstJSONObject(normalized)
}

// stripJSONPrefix drops a leading bare "json" token (any case) together
// with any ':', '-', or whitespace separators that follow it.
func stripJSONPrefix(value string) string {
	normalized := strings.TrimSpace(value)
	if len(normalized) < 4 || !strings.EqualFold(normalized[:4], "json") {
		return normalized
	}

	i := 4
	for i < len(normalized) {
		r, size := utf8.DecodeRuneInString(normalized[i:])
		if r == ':' || r == '-' || unicode.IsSpace(r) {
			i += size
			continue
		}
		break
	}

	return strings.TrimSpace(normalized[i:])
}

// extractFirstJSONObject walks from the first '{' tracking brace depth,
// string state, and escapes to find the minimal well-formed object inside
// surrounding prose. If the depth never returns to zero (truncated output)
// it falls back to the slice from the first '{' to the last '}'.
//
// Iterating bytes is safe here: the delimiters are ASCII, and UTF-8
// guarantees ASCII bytes never appear inside a multi-byte sequence.
func extractFirstJSONObject(value string) string {
	start := strings.IndexByte(value, '{')
	if start < 0 {
		return value
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(value); i++ {
		c := value[i]

		if inString {
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
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
				return value[start : i+1]
			}
		}
	}

	last := strings.LastIndexByte(value, '}')
	if last > start {
		return value[start : last+1]
	}
	return value[start:]
}

// escapeControlCharsInStrings replaces raw control characters found inside
// string literals with their JSON escape sequences, tracking string and
// escape state the same way extractFirstJSONObject does.
func escapeControlCharsInStrings(value string) string {
	var out strings.Builder
	out.Grow(len(value) + 16)

	inString := false
	escape := false

	for i := 0; i < len(value); i++ {
		c := value[i]

		if !inString {
			out.WriteByte(c)
			if c == '"' {
				inString = true
			}
			continue
		}

		if escape {
			out.WriteByte(c)
			escape = false
			continue
		}

		if c == '\\' {
			out.WriteByte(c)
			escape = true
			continue
		}

		if c == '"' {
			out.WriteByte(c)
			inString = false
			continue
		}

		if c < 0x20 {
			writeEscapedControlChar(&out, c)
			continue
		}

		out.WriteByte(c)
	}

	return out.String()
}

func writeEscapedControlChar(out *strings.Builder, c byte) {
	switch c {
	case '\n':
		out.WriteString(`\n`)
	case '\r':
		out.WriteString(`\r`)
	case '\t':
		out.WriteString(`\t`)
	case '\b':
		out.WriteString(`\b`)
	case '\f':
		out.WriteString(`\f`)
	default:
		fmt.Fprintf(out, `\u%04x`, c)
	}
}
