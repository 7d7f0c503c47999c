package pipeline

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeFingerprintIsDeterministic(t *testing.T) {
	a := ComputeFingerprint([]byte("same bytes"))
	b := ComputeFingerprint([]byte("same bytes"))
	c := ComputeFingerprint([]byte("other bytes"))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.True(t, a.Valid())
	require.Len(t, a.String(), FingerprintLength)
}

func TestFingerprintValidRejectsPathLikeValues(t *testing.T) {
	for _, f := range []Fingerprint{"", "../etc/passwd", Fingerprint(fmt.Sprintf("%064d", 0) + "0"), Fingerprint("G" + fmt.Sprintf("%063d", 0))} {
		require.False(t, f.Valid(), "value %q", f)
	}
}

func TestPredictionWireFormat(t *testing.T) {
	data, err := json.Marshal(NewPrediction("dog", 0.973456))
	require.NoError(t, err)
	require.JSONEq(t, `{"label":"dog","confidence":0.9735}`, string(data))

	data, err = json.Marshal(Unclassified())
	require.NoError(t, err)
	require.JSONEq(t, `{"label":null,"confidence":null}`, string(data))
}

func TestPredictionDecodeNullsAsUnclassified(t *testing.T) {
	var p Prediction
	require.NoError(t, json.Unmarshal([]byte(`{"label":null,"confidence":null}`), &p))
	require.False(t, p.Classified)

	require.NoError(t, json.Unmarshal([]byte(`{"label":"cat","confidence":0.5}`), &p))
	require.Equal(t, NewPrediction("cat", 0.5), p)
}

func TestNewPredictionClampsConfidence(t *testing.T) {
	require.Equal(t, 1.0, NewPrediction("x", 1.7).Confidence)
	require.Equal(t, 0.0, NewPrediction("x", -0.2).Confidence)
}

func TestJobDescriptorWireFormat(t *testing.T) {
	data, err := json.Marshal(JobDescriptor{JobID: "j1", Fingerprint: "abc"})
	require.NoError(t, err)
	require.JSONEq(t, `{"job_id":"j1","fingerprint":"abc"}`, string(data))
}
