package verification

import (
	"fmt"
	"math"
)

const SuccessMarker = "Success"

// Policy decides whether a liveness probability counts as a live capture
type Policy interface {
	Name() string
	IsLive(probability float64) bool
}

// AcceptParsed treats every successfully parsed envelope as live,
// whatever the probability.
type AcceptParsed struct{}

func (AcceptParsed) Name() string {
	return "accept_parsed"
}

func (AcceptParsed) IsLive(float64) bool {
	return true
}

// Threshold accepts probabilities at or above Min
type Threshold struct {
	Min float64
}

func NewThreshold(minimum float64) (Threshold, error) {
	if math.IsNaN(minimum) || minimum < 0 || minimum > 1 {
		return Threshold{}, fmt.Errorf("probability threshold must be within [0,1], got %v", minimum)
	}
	return Threshold{Min: minimum}, nil
}

func (t Threshold) Name() string {
	return fmt.Sprintf("threshold(%.2f)", t.Min)
}

func (t Threshold) IsLive(probability float64) bool {
	return probability >= t.Min
}

// Outcome is the decided result of one verification exchange
type Outcome struct {
	Probability float64
	Percent     int
	Live        bool
	Policy      string
	Envelope    *Envelope
	Raw         string
}

// Message is the human readable verdict reported back to the device
func (o *Outcome) Message() string {
	if o.Live {
		return SuccessMarker
	}
	return fmt.Sprintf("liveness probability %d%% rejected by %s", o.Percent, o.Policy)
}

func Decide(policy Policy, envelope *Envelope) *Outcome {
	probability := envelope.Probability()
	return &Outcome{
		Probability: probability,
		Percent:     ToIntPercent(probability),
		Live:        policy.IsLive(probability),
		Policy:      policy.Name(),
		Envelope:    envelope,
	}
}

// ToIntPercent converts a probability to a whole percentage, e.g. 0.564 -> 56, 0.715 -> 72
func ToIntPercent(probability float64) int {
	return int(math.Round(probability * 100))
}
