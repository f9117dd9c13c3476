package parse

import (
	"regexp"
	"strings"

	"github.com/go-go-golems/marionette/pkg/inference/tools"
)

// PositionalNamer resolves the parameter that receives a bare argument string for a tool.
// *tools.Registry implements it.
type PositionalNamer interface {
	PositionalParameter(toolName string) string
}

var keyValueRegexp = regexp.MustCompile(`(?s)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.*?)\s*$`)

// CoerceArguments turns the raw text between an action's delimiters into named arguments.
//
// The tiers are tried in order and are the only behaviors:
//
//	T0: empty (after trimming)               -> no arguments
//	T1: comma separated identifier=value     -> one argument per piece, values unquoted
//	T2: anything else                        -> one argument named positionalName
//
// Commas inside quotes or brackets do not split. T1 requires every non-empty piece to be a
// key=value pair; a single offending piece sends the whole string to T2.
func CoerceArguments(raw string, positionalName string) tools.Arguments {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return tools.Arguments{}
	}

	if args, ok := keyValueArguments(trimmed); ok {
		return args
	}

	if positionalName == "" {
		positionalName = tools.DefaultPositionalParameter
	}
	return tools.Arguments{{Name: positionalName, Value: unquote(trimmed)}}
}

func keyValueArguments(s string) (tools.Arguments, bool) {
	var args tools.Arguments
	for _, piece := range splitTopLevel(s, ',') {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		m := keyValueRegexp.FindStringSubmatch(piece)
		if m == nil {
			return nil, false
		}
		args = append(args, tools.Argument{Name: m[1], Value: unquote(m[2])})
	}
	if len(args) == 0 {
		return nil, false
	}
	return args, true
}

// splitTopLevel splits s on sep, ignoring separators inside quotes or (), [] and {} pairs.
func splitTopLevel(s string, sep rune) []string {
	var parts []string
	var quote rune
	depth := 0
	escaped := false
	start := 0

	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\' && quote != 0:
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case (r == ')' || r == ']' || r == '}') && depth > 0:
			depth--
		case r == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// unquote strips one pair of matching surrounding quotes and unescapes escaped quotes and
// backslashes inside them. Anything else is returned trimmed.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	q := s[0]
	if (q != '"' && q != '\'') || s[len(s)-1] != q {
		return s
	}
	inner := s[1 : len(s)-1]
	if !strings.Contains(inner, `\`) {
		return inner
	}

	var sb strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) {
			next := inner[i+1]
			if next == q || next == '\\' {
				sb.WriteByte(next)
				i++
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
