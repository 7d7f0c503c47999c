package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
)

// FingerprintLength is the number of hex characters in a Fingerprint.
const FingerprintLength = sha256.Size * 2

// Fingerprint is the content address of an uploaded image.
type Fingerprint string

// ComputeFingerprint returns the SHA-256 digest of content as lowercase hex.
func ComputeFingerprint(content []byte) Fingerprint {
	sum := sha256.Sum256(content)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Valid reports whether f looks like a value produced by ComputeFingerprint.
func (f Fingerprint) Valid() bool {
	if len(f) != FingerprintLength {
		return false
	}
	for i := 0; i < len(f); i++ {
		c := f[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (f Fingerprint) String() string {
	return string(f)
}

// JobDescriptor is the unit of work carried by the queue.
type JobDescriptor struct {
	JobID       string      `json:"job_id"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// Prediction is the outcome of classifying one image.
// A Prediction with Classified == false means inference failed; it is
// serialized with null label and confidence.
type Prediction struct {
	Label      string
	Confidence float64
	Classified bool
}

// NewPrediction builds a classified prediction with confidence clamped to
// [0,1] and rounded to 4 decimals.
func NewPrediction(label string, confidence float64) Prediction {
	return Prediction{Label: label, Confidence: roundConfidence(confidence), Classified: true}
}

// Unclassified is the explicit negative outcome delivered when inference fails.
func Unclassified() Prediction {
	return Prediction{}
}

type predictionWire struct {
	Label      *string  `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// MarshalJSON implements json.Marshaler.
func (p Prediction) MarshalJSON() ([]byte, error) {
	var wire predictionWire
	if p.Classified {
		label := p.Label
		confidence := roundConfidence(p.Confidence)
		wire.Label = &label
		wire.Confidence = &confidence
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Prediction) UnmarshalJSON(data []byte) error {
	var wire predictionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Label == nil || wire.Confidence == nil {
		*p = Unclassified()
		return nil
	}
	*p = NewPrediction(*wire.Label, *wire.Confidence)
	return nil
}

func roundConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return math.Round(v*10000) / 10000
}
