// Package partialjson extracts structured values from LLM output that may be
// fenced in a markdown code block or still streaming in.
package partialjson

import (
	"encoding/json"
	"strings"
)

// Status tells how a Result was obtained.
type Status int

const (
	// NotReady means the buffer could not be parsed yet. It is not an error:
	// the buffer is expected to become parseable as more of the stream arrives.
	NotReady Status = iota
	// Parsed means the buffer was valid JSON after fence stripping.
	Parsed
	// Repaired means the value was recovered by closing a truncated array of
	// objects. The last element may be incomplete in meaning.
	Repaired
)

func (s Status) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case Repaired:
		return "repaired"
	default:
		return "not_ready"
	}
}

// Result is the outcome of an extraction.
type Result[T any] struct {
	Value  T
	Status Status
}

// OK reports whether a value was extracted.
func (r Result[T]) OK() bool { return r.Status != NotReady }

// Extract parses buf into T. It is pure: the same buffer always yields the
// same Result.
func Extract[T any](buf string) Result[T] {
	body := StripFence(buf)
	if body == "" {
		return Result[T]{}
	}

	var v T
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		return Result[T]{Value: v, Status: Parsed}
	}

	fixed, ok := repairArray(body)
	if !ok {
		return Result[T]{}
	}
	var r T
	if err := json.Unmarshal([]byte(fixed), &r); err != nil {
		return Result[T]{}
	}
	return Result[T]{Value: r, Status: Repaired}
}

// StripFence removes a markdown code fence around the payload, if present.
// Text before an opening fence is dropped as well.
func StripFence(buf string) string {
	s := strings.TrimSpace(buf)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		// drop the info string (```json)
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
	}
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// repairArray applies the bounded heuristics for a truncated array of objects:
// close an unterminated string, drop a trailing comma, and close the array when
// its last element is a complete object. It reports whether anything changed.
func repairArray(s string) (string, bool) {
	if !strings.HasPrefix(s, "[") {
		return "", false
	}

	inString, escaped := false, false
	var stack []byte
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
		case '[', '{':
			stack = append(stack, c)
		case ']', '}':
			if len(stack) == 0 {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}

	out := s
	changed := false
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
		changed = true
	} else {
		trimmed := strings.TrimRight(out, " \t\r\n")
		if strings.HasSuffix(trimmed, ",") {
			out = strings.TrimRight(strings.TrimSuffix(trimmed, ","), " \t\r\n")
			changed = true
		}
	}

	if len(stack) == 1 && stack[0] == '[' && strings.HasSuffix(strings.TrimRight(out, " \t\r\n"), "}") {
		out = strings.TrimRight(out, " \t\r\n") + "]"
		changed = true
	}
	return out, changed
}

// Memo caches the last extraction keyed on the exact buffer value, so callers
// polling a growing buffer only pay for a parse when the buffer changed.
type Memo[T any] struct {
	buf   string
	res   Result[T]
	valid bool
}

// Extract returns the cached result when buf is unchanged.
func (m *Memo[T]) Extract(buf string) Result[T] {
	if m.valid && m.buf == buf {
		return m.res
	}
	m.buf, m.res, m.valid = buf, Extract[T](buf), true
	return m.res
}
