package api

// Schema validates a runtime value at a workflow execution boundary.
// Implementations are supplied by the application (struct validators, JSON
// schema adapters, etc.); the engine only calls Validate.
type Schema interface {
	Validate(v any) error
}

// SchemaFunc adapts a plain function to the Schema interface.
type SchemaFunc func(v any) error

func (f SchemaFunc) Validate(v any) error { return f(v) }
