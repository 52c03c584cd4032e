package logging

// NewNullConnectionTracer returns a ConnectionTracer that records no events.
// It is useful for embedders that require a non-nil tracer.
func NewNullConnectionTracer() *ConnectionTracer {
	return &ConnectionTracer{}
}
