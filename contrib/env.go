package contrib

import (
	"context"
	"os"
	"strings"

	"github.com/deepnoodle-ai/scriptenv/guest"
)

// NewEnv binds "env" with get(name) and list() functions over the process
// environment. It is only contributed to trusted scopes, and only
// variables starting with prefix are visible.
func NewEnv(prefix string) *Module {
	return &Module{
		name:    "env",
		trusted: true,
		funcs: map[string]guest.Func{
			"get": func(_ context.Context, args ...any) (any, error) {
				name, err := stringArg("env.get", args, 0)
				if err != nil {
					return nil, err
				}
				if !strings.HasPrefix(name, prefix) {
					return nil, nil
				}
				if v, ok := os.LookupEnv(name); ok {
					return v, nil
				}
				return nil, nil
			},
			"list": func(context.Context, ...any) (any, error) {
				vars := map[string]any{}
				for _, kv := range os.Environ() {
					k, v, _ := strings.Cut(kv, "=")
					if strings.HasPrefix(k, prefix) {
						vars[k] = v
					}
				}
				return vars, nil
			},
		},
	}
}
