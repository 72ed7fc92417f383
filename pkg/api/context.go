package api

import "context"

// Services carries the application dependencies a step may need (clients,
// repositories, gateways), keyed by name. It is supplied per run via
// RunOptions and passed through to step and compensation actions on the
// context; the engine itself never inspects the values.
type Services map[string]any

// Service returns the named dependency from s, with a typed assertion.
// ok is false when the key is missing or the value has a different type.
func Service[T any](s Services, name string) (T, bool) {
	var zero T
	v, ok := s[name]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

type servicesKey struct{}

// WithServices returns a context carrying the given Services.
func WithServices(ctx context.Context, s Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFromContext returns the Services attached to ctx, or nil.
func ServicesFromContext(ctx context.Context) Services {
	s, _ := ctx.Value(servicesKey{}).(Services)
	return s
}

type engineKey struct{}

// WithEngine returns a context carrying the engine driving the current
// transaction. The orchestrator attaches it before each step invocation.
func WithEngine(ctx context.Context, e Engine) context.Context {
	return context.WithValue(ctx, engineKey{}, e)
}

// EngineFromContext returns the engine attached to ctx, or nil.
func EngineFromContext(ctx context.Context) Engine {
	e, _ := ctx.Value(engineKey{}).(Engine)
	return e
}
