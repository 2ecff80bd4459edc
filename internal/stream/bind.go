package stream

import (
	"fmt"
	"regexp"
)

// BoundCommand is a compiled pattern paired with a concrete invocable target
// and its argument/return mappings. Instances are created once during
// endpoint construction and immutable afterward.
type BoundCommand struct {
	re      *regexp.Regexp
	source  string
	call    CommandFunc
	argMaps []ArgMapping
	ret     ReturnMapping
	doc     string
}

// Source returns the canonical pattern text the command was declared with.
// It doubles as the table deduplication key.
func (c *BoundCommand) Source() string { return c.source }

// Doc returns the command's documentation string.
func (c *BoundCommand) Doc() string { return c.doc }

func (c *BoundCommand) match(request []byte) ([]string, bool) {
	m := c.re.FindSubmatch(request)
	if m == nil {
		return nil, false
	}
	groups := make([]string, len(m)-1)
	for i, g := range m[1:] {
		groups[i] = string(g)
	}
	return groups, true
}

// invoke maps the captured groups, calls the bound target and maps the
// result. Captures beyond the supplied mappings pass through as raw strings.
func (c *BoundCommand) invoke(groups []string) (string, bool, error) {
	args := make([]any, len(groups))
	for i, g := range groups {
		if i < len(c.argMaps) {
			v, err := c.argMaps[i](g)
			if err != nil {
				return "", false, err
			}
			args[i] = v
			continue
		}
		args[i] = g
	}

	result, err := c.call(args...)
	if err != nil {
		return "", false, err
	}
	return c.ret.apply(result)
}

// Table is an ordered command binding table. Declaration order is preserved
// and dispatch is first-match-wins.
type Table []*BoundCommand

// BindCommands resolves specs against the given targets, consulted in order
// (interface object before device object). Binding is all-or-nothing: any
// missing member, arity mismatch or duplicate pattern fails the whole table.
func BindCommands(specs []Spec, mode MatchMode, targets ...Target) (Table, error) {
	var table Table
	seen := make(map[string]struct{})

	for _, spec := range specs {
		bound, err := spec.bind(mode, targets)
		if err != nil {
			return nil, err
		}
		for _, cmd := range bound {
			if _, dup := seen[cmd.source]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicatePattern, cmd.source)
			}
			seen[cmd.source] = struct{}{}
			table = append(table, cmd)
		}
	}

	return table, nil
}
