// Package observability wires OpenTelemetry tracing for the auth client.
//
// Tracing is optional: until InitTracer is called, StartSpan uses the
// global no-op provider and costs nothing. The session manager traces its
// operations so a misbehaving deployment can be inspected end to end.
package observability
