package models

type CaptureOptions struct {
	PreviewEnabled bool   `json:"preview_enabled"`
	PayloadSize    string `json:"payload_size"`
}

type StartLivenessResponse struct {
	SessionId      string         `json:"session_id"`
	SessionToken   string         `json:"session_token"`
	CaptureOptions CaptureOptions `json:"capture_options"`
}

type LivenessResultResponse struct {
	Code               string   `json:"code"`
	Message            string   `json:"message"`
	Live               bool     `json:"live"`
	Probability        *float64 `json:"probability,omitempty"`         // absent when the backend gave no usable envelope
	ProbabilityPercent *int     `json:"probability_percent,omitempty"` // probability rounded to a whole percent
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
