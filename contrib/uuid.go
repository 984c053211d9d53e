package contrib

import (
	"context"

	"github.com/gofrs/uuid"

	"github.com/deepnoodle-ai/scriptenv/guest"
)

// NewUUID binds "uuid" with v4(), which returns a random identifier, and
// parse(text), which returns text in canonical form or fails.
func NewUUID() *Module {
	return &Module{
		name: "uuid",
		funcs: map[string]guest.Func{
			"v4": func(context.Context, ...any) (any, error) {
				id, err := uuid.NewV4()
				if err != nil {
					return nil, err
				}
				return id.String(), nil
			},
			"parse": func(_ context.Context, args ...any) (any, error) {
				text, err := stringArg("uuid.parse", args, 0)
				if err != nil {
					return nil, err
				}
				id, err := uuid.FromString(text)
				if err != nil {
					return nil, err
				}
				return id.String(), nil
			},
		},
	}
}
