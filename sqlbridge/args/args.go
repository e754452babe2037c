// Package args decodes the positional argument list of a bridge call into
// the typed values each action needs.
package args

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tomyedwab/sqlbridge/sqlbridge/errs"
)

// List is the raw positional argument array of one call.
type List []json.RawMessage

func (l List) at(i int, want string) (json.RawMessage, error) {
	if i < 0 || i >= len(l) {
		return nil, errs.Malformed("argument %d: missing, expected %s", i, want)
	}
	raw := bytes.TrimSpace(l[i])
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errs.Malformed("argument %d: null, expected %s", i, want)
	}
	return raw, nil
}

// String decodes argument i as a string.
func (l List) String(i int) (string, error) {
	raw, err := l.at(i, "string")
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errs.Malformed("argument %d: expected string", i)
	}
	return s, nil
}

// Int decodes argument i as an integer. JSON numbers and numeric strings
// are accepted; a fractional part is truncated toward zero.
func (l List) Int(i int) (int, error) {
	raw, err := l.at(i, "integer")
	if err != nil {
		return 0, err
	}
	v, err := decode(raw)
	if err != nil {
		return 0, errs.Malformed("argument %d: expected integer", i)
	}
	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
	default:
		return 0, errs.Malformed("argument %d: expected integer", i)
	}
	if n, err := strconv.Atoi(text); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt || f < math.MinInt {
		return 0, errs.Malformed("argument %d: expected integer, got %q", i, text)
	}
	return int(math.Trunc(f)), nil
}

// Strings decodes argument i as a sequence of strings. Numbers and booleans
// inside the sequence are kept in their JSON text form; nested arrays,
// objects and nulls are rejected.
func (l List) Strings(i int) ([]string, error) {
	raw, err := l.at(i, "array of strings")
	if err != nil {
		return nil, err
	}
	v, err := decode(raw)
	if err != nil {
		return nil, errs.Malformed("argument %d: expected array of strings", i)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, errs.Malformed("argument %d: expected array of strings", i)
	}
	out := make([]string, len(items))
	for j, item := range items {
		switch t := item.(type) {
		case string:
			out[j] = t
		case json.Number:
			out[j] = t.String()
		case bool:
			out[j] = strconv.FormatBool(t)
		default:
			return nil, errs.Malformed("argument %d: element %d is not a string", i, j)
		}
	}
	return out, nil
}

func decode(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Of builds a List from Go values. Callers and tests use it to assemble
// requests.
func Of(values ...any) (List, error) {
	l := make(List, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		l[i] = b
	}
	return l, nil
}
