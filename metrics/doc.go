// Package metrics emits metrics generated throughout the lifetime of a
// resolution. Metrics are structured around hooks: ResolutionHook defines
// methods the engine and its collaborators call at points of interest in
// a RunningQuery's lifecycle, decoupling "hooking" into resolution logic
// from the backend that actually records the metric. Statsd is currently
// the only supported backend.
package metrics
