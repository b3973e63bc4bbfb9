package verification

import (
	"encoding/json"
	"errors"
)

// Envelope is the part of a successful verification response the relay relies on
type Envelope struct {
	Result struct {
		Response struct {
			CaptureLiveness *CaptureLiveness `json:"capture_liveness"`
		} `json:"response"`
	} `json:"result"`
}

type CaptureLiveness struct {
	Probability    float64   `json:"probability"`
	Score          *float64  `json:"score,omitempty"`
	DetailedResult []float64 `json:"detailed_result,omitempty"`
}

// rawEnvelope keeps every level as raw JSON so a missing level can be told
// apart from a zero value
type rawEnvelope struct {
	Result *struct {
		Response *struct {
			CaptureLiveness *struct {
				Probability    *json.Number `json:"probability"`
				Score          *float64     `json:"score"`
				DetailedResult []float64    `json:"detailed_result"`
			} `json:"capture_liveness"`
		} `json:"response"`
	} `json:"result"`
}

// ParseEnvelope navigates result.response.capture_liveness.probability.
// Any failure along the path is an *EnvelopeError, there is no partial result.
func ParseEnvelope(body string) (*Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, &EnvelopeError{Path: "$", Err: err}
	}

	if raw.Result == nil {
		return nil, &EnvelopeError{Path: "result"}
	}
	if raw.Result.Response == nil {
		return nil, &EnvelopeError{Path: "result.response"}
	}
	liveness := raw.Result.Response.CaptureLiveness
	if liveness == nil {
		return nil, &EnvelopeError{Path: "result.response.capture_liveness"}
	}
	if liveness.Probability == nil {
		return nil, &EnvelopeError{Path: "result.response.capture_liveness.probability"}
	}

	probability, err := liveness.Probability.Float64()
	if err != nil {
		return nil, &EnvelopeError{Path: "result.response.capture_liveness.probability", Err: err}
	}

	envelope := &Envelope{}
	envelope.Result.Response.CaptureLiveness = &CaptureLiveness{
		Probability:    probability,
		Score:          liveness.Score,
		DetailedResult: liveness.DetailedResult,
	}
	return envelope, nil
}

// Probability returns the liveness probability of a parsed envelope
func (e *Envelope) Probability() float64 {
	return e.Result.Response.CaptureLiveness.Probability
}

// IsEnvelopeError reports whether err came from ParseEnvelope
func IsEnvelopeError(err error) bool {
	var envelopeErr *EnvelopeError
	return errors.As(err, &envelopeErr)
}
