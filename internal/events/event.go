// Package events defines the Callback Channel: a typed progress event sum
// type plus a cancellation-aware publish/subscribe abstraction used to
// stream Operation lifecycle updates to MCP clients.
package events

import "encoding/json"

// Kind discriminates the tagged Progress variant (§3 Callback Event).
type Kind string

const (
	KindStarted     Kind = "started"
	KindProgress    Kind = "progress"
	KindOutput      Kind = "output"
	KindCompleted   Kind = "completed"
	KindFailed      Kind = "failed"
	KindCancelled   Kind = "cancelled"
	KindFinalResult Kind = "final_result"
	KindLogAlert    Kind = "log_alert"
)

// Event is the discriminated union of every progress notification the core
// emits for a single operation. Exactly one of the typed payload fields is
// populated, matching Kind. Consumers should switch exhaustively on Kind
// rather than duck-type the payload.
type Event struct {
	Kind Kind   `json:"kind"`
	Op   string `json:"op"`

	Started     *StartedPayload     `json:"started,omitempty"`
	Progress    *ProgressPayload    `json:"progress,omitempty"`
	Output      *OutputPayload      `json:"output,omitempty"`
	Completed   *CompletedPayload   `json:"completed,omitempty"`
	Failed      *FailedPayload      `json:"failed,omitempty"`
	Cancelled   *CancelledPayload   `json:"cancelled,omitempty"`
	FinalResult *FinalResultPayload `json:"final_result,omitempty"`
	LogAlert    *LogAlertPayload    `json:"log_alert,omitempty"`

	// ProgressToken, when non-empty, is echoed verbatim on every
	// notifications/progress emission for the call that supplied it
	// (§6, Testable Property 8).
	ProgressToken string `json:"progress_token,omitempty"`
}

type (
	StartedPayload struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}

	ProgressPayload struct {
		Message    string   `json:"message"`
		Percentage *float64 `json:"percentage,omitempty"`
		Step       *string  `json:"step,omitempty"`
	}

	OutputPayload struct {
		Line     string `json:"line"`
		IsStderr bool   `json:"is_stderr"`
	}

	CompletedPayload struct {
		Message    string `json:"message"`
		DurationMS int64  `json:"duration_ms"`
	}

	FailedPayload struct {
		Error      string `json:"error"`
		DurationMS int64  `json:"duration_ms"`
	}

	CancelledPayload struct {
		Message    string `json:"message"`
		DurationMS int64  `json:"duration_ms"`
	}

	FinalResultPayload struct {
		Command     string `json:"command"`
		Description string `json:"description"`
		WorkingDir  string `json:"working_dir"`
		Success     bool   `json:"success"`
		FullOutput  string `json:"full_output"`
		DurationMS  int64  `json:"duration_ms"`
	}

	LogAlertPayload struct {
		TriggerLevel    string   `json:"trigger_level"`
		ContextSnapshot []string `json:"context_snapshot"`
	}
)

// MarshalForTransport renders the event as a single JSON object suitable for
// a notifications/progress payload (§6). It is a thin wrapper kept separate
// from json.Marshal so callers don't reach past the Callback Channel
// boundary to encode events themselves.
func MarshalForTransport(e Event) ([]byte, error) {
	return json.Marshal(e)
}
