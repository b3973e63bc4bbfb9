package verification

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	envelope, err := ParseEnvelope(`{"result":{"response":{"capture_liveness":{"probability":0.93,"score":1.7,"detailed_result":[0.1,0.9]}}}}`)
	require.NoError(t, err)
	require.Equal(t, 0.93, envelope.Probability())

	liveness := envelope.Result.Response.CaptureLiveness
	require.NotNil(t, liveness.Score)
	require.Equal(t, 1.7, *liveness.Score)
	require.Equal(t, []float64{0.1, 0.9}, liveness.DetailedResult)
}

func TestParseEnvelope_ZeroProbabilityIsPresent(t *testing.T) {
	envelope, err := ParseEnvelope(`{"result":{"response":{"capture_liveness":{"probability":0}}}}`)
	require.NoError(t, err)
	require.Equal(t, 0.0, envelope.Probability())
}

func TestParseEnvelope_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
		path string
	}{
		{"empty object", `{}`, "result"},
		{"null result", `{"result":null}`, "result"},
		{"missing response", `{"result":{}}`, "result.response"},
		{"missing capture_liveness", `{"result":{"response":{}}}`, "result.response.capture_liveness"},
		{"missing probability", `{"result":{"response":{"capture_liveness":{}}}}`, "result.response.capture_liveness.probability"},
		{"null probability", `{"result":{"response":{"capture_liveness":{"probability":null}}}}`, "result.response.capture_liveness.probability"},
		{"not json", `<html>gateway</html>`, "$"},
		{"wrong type", `{"result":[]}`, "$"},
		{"non numeric probability", `{"result":{"response":{"capture_liveness":{"probability":"high"}}}}`, "$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := ParseEnvelope(tt.body)
			require.Nil(t, envelope)

			var envelopeErr *EnvelopeError
			require.ErrorAs(t, err, &envelopeErr)
			require.Equal(t, tt.path, envelopeErr.Path)
		})
	}
}
