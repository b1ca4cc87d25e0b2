package roles

import (
	"fmt"
	"sort"

	"github.com/lodomo/EscapeWright/internal/role"
)

// Factory builds a role for the named node.
type Factory func(node string, settings Settings) (role.Role, error)

var registry = map[string]Factory{
	"hello":     NewHello,
	"countdown": NewCountdown,
	"blocking":  NewBlocking,
}

// New looks up kind and builds the role.
func New(kind, node string, settings map[string]any) (role.Role, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown role %q (known: %v)", kind, Kinds())
	}
	r, err := f(node, Settings(settings))
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", kind, err)
	}
	return r, nil
}

func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
