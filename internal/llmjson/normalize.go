package llmjson

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// The model is asked for strict JSON but offers no schema guarantee. This
// package turns whatever came back into a well-typed payload through staged
// repair: strip markdown fences, bound the first balanced object by brace
// depth, apply textual repairs, parse. On parse failure a narrower recovery
// isolates the payload's known array key; when that also fails the caller
// gets the kind's empty fallback tagged with the error. Nothing here ever
// returns an error to the caller.

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	singleQuoteRe   = regexp.MustCompile(`'([^']*)'`)
	pyTrueRe        = regexp.MustCompile(`:\s*True\b`)
	pyFalseRe       = regexp.MustCompile(`:\s*False\b`)
	pyNoneRe        = regexp.MustCompile(`:\s*None\b`)
)

// Repair runs the full strip/bound/clean sequence and returns the repaired
// JSON text of the first balanced object, or ok=false when no balanced
// object exists.
func Repair(raw string) (string, bool) {
	text := stripFences(raw)

	span, ok := boundObject(text)
	if !ok {
		return "", false
	}

	return clean(span), true
}

// stripFences removes leading/trailing markdown code-fence markers.
func stripFences(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}
	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-len("```")]
	}

	return strings.TrimSpace(text)
}

// boundObject scans for the first balanced {...} span using brace-depth
// counting. Braces inside quoted strings are ignored; both quote styles are
// honored because cleaning has not run yet.
func boundObject(text string) (string, bool) {
	start := -1
	depth := 0
	var inString bool
	var quote byte
	var escaped bool

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				inString = false
			}
			continue
		}

		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start == -1 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}

// clean applies textual repairs for the failure modes the model actually
// produces: trailing commas, bare keys, single-quoted strings, Python
// literals, and // line comments.
func clean(text string) string {
	text = stripLineComments(text)
	text = trailingCommaRe.ReplaceAllString(text, "$1")
	text = bareKeyRe.ReplaceAllString(text, `$1"$2":`)
	text = singleQuoteRe.ReplaceAllString(text, `"$1"`)
	text = pyTrueRe.ReplaceAllString(text, ": true")
	text = pyFalseRe.ReplaceAllString(text, ": false")
	text = pyNoneRe.ReplaceAllString(text, ": null")
	return text
}

// stripLineComments removes // comments outside of strings, so URLs inside
// string values survive.
func stripLineComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	var inString bool
	var quote byte
	var escaped bool

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				inString = false
			}
			b.WriteByte(c)
			continue
		}

		if c == '"' || c == '\'' {
			inString = true
			quote = c
			b.WriteByte(c)
			continue
		}

		if c == '/' && i+1 < len(text) && text[i+1] == '/' {
			for i < len(text) && text[i] != '\n' {
				i++
			}
			if i < len(text) {
				b.WriteByte('\n')
			}
			continue
		}

		b.WriteByte(c)
	}

	return b.String()
}

// recoverArray locates `"key": [...]` anywhere in the raw text by
// bracket-depth scanning and returns the array's cleaned JSON text. Used
// when the full object failed to parse but the payload's one interesting
// array may still be intact.
func recoverArray(raw, key string) (string, bool) {
	idx := strings.Index(raw, `"`+key+`"`)
	if idx == -1 {
		idx = strings.Index(raw, key)
		if idx == -1 {
			return "", false
		}
	}

	open := strings.IndexByte(raw[idx:], '[')
	if open == -1 {
		return "", false
	}
	open += idx

	depth := 0
	var inString bool
	var quote byte
	var escaped bool

	for i := open; i < len(raw); i++ {
		c := raw[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				inString = false
			}
			continue
		}

		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return clean(raw[open : i+1]), true
			}
		}
	}

	return "", false
}

// decode parses raw into dst, first via full repair, then via array
// recovery on the given key. Returns false when both stages fail.
func decode(raw, arrayKey, context string, dst any) bool {
	if span, ok := Repair(raw); ok {
		if err := json.Unmarshal([]byte(span), dst); err == nil {
			return true
		} else {
			zap.L().Debug("llmjson: strict parse failed, attempting recovery",
				zap.String("context", context),
				zap.Error(err),
			)
		}
	}

	arr, ok := recoverArray(raw, arrayKey)
	if !ok {
		return false
	}

	wrapped := `{"` + arrayKey + `": ` + arr + `}`
	if err := json.Unmarshal([]byte(wrapped), dst); err != nil {
		zap.L().Debug("llmjson: array recovery failed",
			zap.String("context", context),
			zap.String("key", arrayKey),
			zap.Error(err),
		)
		return false
	}

	return true
}

// Float converts a loosely-typed JSON value to float64. Accepts numbers,
// numeric strings, and json.Number; returns 0 otherwise.
func Float(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// String converts a loosely-typed JSON value to its display string.
// Numbers keep their shortest representation; nil becomes "".
func String(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
