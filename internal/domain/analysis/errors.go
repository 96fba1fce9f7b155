package analysis

import "errors"

// Error taxonomy of the pipeline. Callers match with errors.Is.
var (
	// ErrValidation: empty input, rejected at the boundary.
	ErrValidation = errors.New("invalid analysis request")
	// ErrConfiguration: missing credentials or tool executable; fatal, not retried.
	ErrConfiguration = errors.New("analyzer not configured")

	// Tool-side failures. The pipeline degrades to model-only analysis on these.
	ErrToolStartup  = errors.New("tool server failed to start")
	ErrToolTimeout  = errors.New("tool invocation timed out")
	ErrToolProtocol = errors.New("tool protocol error")
	// ErrToolDenied is returned by the gate for every invocation after the first.
	ErrToolDenied = errors.New("tool invocation denied")

	// Fatal to the request.
	ErrReasoningTimeout = errors.New("reasoning did not finalize within the turn limit")
	ErrModelUnavailable = errors.New("model provider unavailable")
	ErrMalformedOutput  = errors.New("model output does not match the report schema")
)

// IsToolFailure reports whether err is a tool-side failure that allows model-only degradation.
func IsToolFailure(err error) bool {
	return errors.Is(err, ErrToolStartup) ||
		errors.Is(err, ErrToolTimeout) ||
		errors.Is(err, ErrToolProtocol)
}
