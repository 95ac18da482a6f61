package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// StreamFrame is one websocket message on the wish stream. Type is "snapshot",
// "resync" or a feed event type.
type StreamFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
