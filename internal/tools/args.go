package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/set-night/skylog/internal/domain"
)

// Args holds validated arguments keyed by parameter name. Integers are int64,
// numbers float64, strings string.
type Args map[string]any

func (a Args) String(name string) (string, bool) {
	v, ok := a[name].(string)
	return v, ok
}

func (a Args) Int(name string) (int64, bool) {
	v, ok := a[name].(int64)
	return v, ok
}

// Uint returns an integer argument as a pointer, nil when absent.
func (a Args) Uint(name string) *uint64 {
	v, ok := a[name].(int64)
	if !ok {
		return nil
	}
	u := uint64(v)
	return &u
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArguments, fmt.Sprintf(format, args...))
}

// parseArgs decodes raw JSON arguments and checks them against the tool params.
func parseArgs(spec Spec, raw json.RawMessage) (Args, error) {
	fields := map[string]json.RawMessage{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, invalid("arguments must be a JSON object: %v", err)
		}
	}

	var unknown []string
	for name := range fields {
		if _, ok := spec.param(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, invalid("unknown argument(s) %s for %s", strings.Join(unknown, ", "), spec.Name)
	}

	args := make(Args, len(fields))
	for _, p := range spec.Params {
		rawVal, ok := fields[p.Name]
		if !ok || bytes.Equal(bytes.TrimSpace(rawVal), []byte("null")) {
			if p.Required {
				return nil, invalid("missing required argument %q", p.Name)
			}
			continue
		}
		v, err := parseValue(p, rawVal)
		if err != nil {
			return nil, err
		}
		args[p.Name] = v
	}

	if start, ok := args.Int("start_us"); ok {
		if end, ok := args.Int("end_us"); ok && start > end {
			return nil, invalid("start_us (%d) is after end_us (%d)", start, end)
		}
	}
	return args, nil
}

func parseValue(p Param, raw json.RawMessage) (any, error) {
	switch p.Type {
	case TypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalid("%s must be a string", p.Name)
		}
		s = strings.TrimSpace(s)
		if s == "" && p.Required {
			return nil, invalid("%s must not be empty", p.Name)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return nil, invalid("%s must be one of %s, got %q", p.Name, strings.Join(p.Enum, ", "), s)
		}
		return s, nil

	case TypeInteger, TypeNumber:
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] == '"' {
			return nil, invalid("%s must be a %s", p.Name, p.Type)
		}
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return nil, invalid("%s must be a %s", p.Name, p.Type)
		}
		f, err := n.Float64()
		if err != nil || math.IsInf(f, 0) {
			return nil, invalid("%s must be a %s", p.Name, p.Type)
		}
		if p.Min != nil && f < *p.Min {
			return nil, invalid("%s must be at least %v, got %v", p.Name, *p.Min, f)
		}
		if p.Max != nil && f > *p.Max {
			return nil, invalid("%s must be at most %v, got %v", p.Name, *p.Max, f)
		}
		if p.Type == TypeNumber {
			return f, nil
		}
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return nil, invalid("%s must be an integer, got %v", p.Name, f)
		}
		return int64(f), nil
	}
	return nil, invalid("%s has unsupported type %s", p.Name, p.Type)
}
