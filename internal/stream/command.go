package stream

import (
	"fmt"
	"regexp"
	"strconv"
)

// ArgMapping converts one captured string into a typed argument before the
// bound callable is invoked.
type ArgMapping func(raw string) (any, error)

func IntArg(raw string) (any, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("parse int argument %q: %w", raw, err)
	}
	return v, nil
}

func FloatArg(raw string) (any, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("parse float argument %q: %w", raw, err)
	}
	return v, nil
}

func StringArg(raw string) (any, error) {
	return raw, nil
}

type returnKind int

const (
	returnDefault returnKind = iota
	returnConstant
	returnFunc
)

// ReturnMapping maps an invocation result to an optional reply line. The
// zero value is the default mapping: a nil result produces no reply, any
// other result is rendered with fmt.Sprint.
type ReturnMapping struct {
	kind     returnKind
	constant string
	fn       func(result any) (string, bool, error)
}

// ConstantReturn replies with the same text regardless of the invocation
// result.
func ConstantReturn(text string) ReturnMapping {
	return ReturnMapping{kind: returnConstant, constant: text}
}

// ReturnFunc maps the invocation result through fn. Returning ok=false
// suppresses the reply entirely.
func ReturnFunc(fn func(result any) (string, bool, error)) ReturnMapping {
	return ReturnMapping{kind: returnFunc, fn: fn}
}

func (m ReturnMapping) apply(result any) (string, bool, error) {
	switch m.kind {
	case returnConstant:
		return m.constant, true, nil
	case returnFunc:
		return m.fn(result)
	default:
		if result == nil {
			return "", false, nil
		}
		return fmt.Sprint(result), true, nil
	}
}

// MatchMode selects how a bound pattern is held against a request.
type MatchMode int

const (
	// MatchFull requires the pattern to consume the entire request.
	MatchFull MatchMode = iota
	// MatchPrefix accepts a match anchored at the start of the request,
	// ignoring trailing bytes the pattern does not consume.
	MatchPrefix
)

func compilePattern(pattern string, mode MatchMode) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrBadPattern)
	}
	anchored := `\A(?:` + pattern + `)`
	if mode == MatchFull {
		anchored += `\z`
	}
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}
	return re, nil
}

// Spec describes one request-to-invocation mapping before binding.
type Spec interface {
	bind(mode MatchMode, targets []Target) ([]*BoundCommand, error)
}

// Cmd maps a request pattern to a method of the exposed device or its
// interface object. Capture groups become invocation arguments; when
// ArgMappings is supplied its length must equal the group count, otherwise
// the raw captured strings are passed through.
//
// Func takes precedence over Name and binds directly without member lookup.
type Cmd struct {
	Name        string
	Func        CommandFunc
	Pattern     string
	ArgMappings []ArgMapping
	Return      ReturnMapping
	Doc         string
}

func (c Cmd) bind(mode MatchMode, targets []Target) ([]*BoundCommand, error) {
	re, err := compilePattern(c.Pattern, mode)
	if err != nil {
		return nil, err
	}
	if c.ArgMappings != nil && re.NumSubexp() != len(c.ArgMappings) {
		return nil, fmt.Errorf("%w: pattern %q has %d group(s), %d mapping(s) supplied",
			ErrArityMismatch, c.Pattern, re.NumSubexp(), len(c.ArgMappings))
	}

	fn := c.Func
	if fn == nil {
		for _, target := range targets {
			if m, ok := target.Method(c.Name); ok {
				fn = m
				break
			}
		}
		if fn == nil {
			return nil, fmt.Errorf("%w: %q", ErrMissingMember, c.Name)
		}
	}

	return []*BoundCommand{{
		re:      re,
		source:  c.Pattern,
		call:    fn,
		argMaps: c.ArgMappings,
		ret:     c.Return,
		doc:     c.Doc,
	}}, nil
}

// Var exposes a device property as a read command, a write command, or both.
// The read pattern must capture nothing; the write pattern's capture groups
// feed the property setter (a single group passes the mapped value, multiple
// groups pass a slice of mapped values).
type Var struct {
	Name         string
	ReadPattern  string
	WritePattern string
	ArgMappings  []ArgMapping
	Return       ReturnMapping
	Doc          string
}

func (v Var) bind(mode MatchMode, targets []Target) ([]*BoundCommand, error) {
	if v.ReadPattern == "" && v.WritePattern == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoPatterns, v.Name)
	}

	var acc Accessor
	found := false
	for _, target := range targets {
		if a, ok := target.Property(v.Name); ok {
			acc = a
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrMissingMember, v.Name)
	}

	var bound []*BoundCommand

	if v.ReadPattern != "" {
		re, err := compilePattern(v.ReadPattern, mode)
		if err != nil {
			return nil, err
		}
		if re.NumSubexp() != 0 {
			return nil, fmt.Errorf("%w: read pattern %q must not capture groups",
				ErrArityMismatch, v.ReadPattern)
		}
		getter := func(args ...any) (any, error) {
			return acc.Get(), nil
		}
		bound = append(bound, &BoundCommand{
			re:     re,
			source: v.ReadPattern,
			call:   getter,
			ret:    v.Return,
			doc:    v.Doc,
		})
	}

	if v.WritePattern != "" {
		re, err := compilePattern(v.WritePattern, mode)
		if err != nil {
			return nil, err
		}
		if re.NumSubexp() == 0 {
			return nil, fmt.Errorf("%w: write pattern %q must capture at least one group",
				ErrArityMismatch, v.WritePattern)
		}
		if v.ArgMappings != nil && re.NumSubexp() != len(v.ArgMappings) {
			return nil, fmt.Errorf("%w: write pattern %q has %d group(s), %d mapping(s) supplied",
				ErrArityMismatch, v.WritePattern, re.NumSubexp(), len(v.ArgMappings))
		}
		setter := func(args ...any) (any, error) {
			var value any
			if len(args) == 1 {
				value = args[0]
			} else {
				value = args
			}
			if err := acc.Set(value); err != nil {
				return nil, err
			}
			return nil, nil
		}
		bound = append(bound, &BoundCommand{
			re:      re,
			source:  v.WritePattern,
			call:    setter,
			argMaps: v.ArgMappings,
			ret:     v.Return,
			doc:     v.Doc,
		})
	}

	return bound, nil
}
