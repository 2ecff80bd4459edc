package stream

// CommandFunc is the invocation shape every bound command resolves to.
// Arguments are the mapped capture groups, in pattern order. A nil result
// means the command produces no reply.
type CommandFunc func(args ...any) (any, error)

// Accessor reads and writes one named property of a device.
type Accessor struct {
	Get func() any
	Set func(value any) error
}

// Target exposes named members of a device or interface object to command
// binding. Binding resolves member names exclusively through this contract,
// so any domain object can be wrapped without reflection.
type Target interface {
	Method(name string) (CommandFunc, bool)
	Property(name string) (Accessor, bool)
}

// MemberTable is a map-backed Target.
type MemberTable struct {
	methods map[string]CommandFunc
	props   map[string]Accessor
}

func NewMemberTable() *MemberTable {
	return &MemberTable{
		methods: make(map[string]CommandFunc),
		props:   make(map[string]Accessor),
	}
}

// SetMethod registers a callable member. Registering a name twice replaces
// the earlier entry.
func (t *MemberTable) SetMethod(name string, fn CommandFunc) {
	t.methods[name] = fn
}

// SetProperty registers a property accessor under a member name.
func (t *MemberTable) SetProperty(name string, acc Accessor) {
	t.props[name] = acc
}

func (t *MemberTable) Method(name string) (CommandFunc, bool) {
	fn, ok := t.methods[name]
	return fn, ok
}

func (t *MemberTable) Property(name string) (Accessor, bool) {
	acc, ok := t.props[name]
	return acc, ok
}
