package schema

import "time"

// RunResult is the outcome of a single node execution. Exactly one of the
// two variants applies: Success=true with Data, or Success=false with Error.
// Runners never report failure any other way.
type RunResult struct {
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Status     int            `json:"status,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms,omitempty"`

	// Outputs names the source handles selected by the node. A nil slice
	// means every outgoing edge fires; an empty slice means none do.
	// Routers and logic gates set this to gate their fan-out.
	Outputs []string `json:"outputs,omitempty"`
}

// OK builds a success result stamped with the current time.
func OK(data map[string]any) *RunResult {
	return &RunResult{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Fail builds an error result from a FlowError.
func Fail(err *FlowError) *RunResult {
	return &RunResult{
		Success:   false,
		Error:     err.Message,
		ErrorCode: err.Code,
		Timestamp: time.Now().UTC(),
	}
}

// Failf builds an error result with a formatted message.
func Failf(code, format string, args ...any) *RunResult {
	return Fail(NewErrorf(code, format, args...))
}
