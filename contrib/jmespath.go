package contrib

import (
	"context"

	"github.com/jmespath-community/go-jmespath"

	"github.com/deepnoodle-ai/scriptenv/guest"
)

// NewJMESPath binds "jmespath" with a search(expression, data) function.
// Host collections are queried through their backing values.
func NewJMESPath() *Module {
	return &Module{
		name: "jmespath",
		funcs: map[string]guest.Func{
			"search": func(_ context.Context, args ...any) (any, error) {
				expr, err := stringArg("jmespath.search", args, 0)
				if err != nil {
					return nil, err
				}
				var data any
				if len(args) > 1 {
					data = plain(args[1])
				}
				return jmespath.Search(expr, data)
			},
		},
	}
}
