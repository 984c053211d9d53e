package contrib

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/scriptenv/guest"
)

// NewLog binds "log" with debug, info, warn and error functions. Each takes
// a message and an optional object of fields:
//
//	log.info("order placed", {id: order.id})
func NewLog(logger zerolog.Logger, tracer Tracer) *Module {
	level := func(l zerolog.Level) guest.Func {
		return func(ctx context.Context, args ...any) (any, error) {
			event := logger.WithLevel(l)
			if !event.Enabled() {
				return nil, nil
			}
			if tracer != nil {
				if ref, ok := tracer.CurrentReference(ctx); ok {
					event = event.Str("script", ref.Name())
				}
			}
			var parts []string
			for _, arg := range args {
				if fields, ok := plain(arg).(map[string]any); ok {
					event = event.Fields(fields)
					continue
				}
				parts = append(parts, fmt.Sprint(arg))
			}
			event.Msg(strings.Join(parts, " "))
			return nil, nil
		}
	}
	return &Module{
		name: "log",
		funcs: map[string]guest.Func{
			"debug": level(zerolog.DebugLevel),
			"info":  level(zerolog.InfoLevel),
			"warn":  level(zerolog.WarnLevel),
			"error": level(zerolog.ErrorLevel),
		},
	}
}
