// Package inference defines the model collaborator used by workers.
package inference

import (
	"context"

	"github.com/example/imgclassify/internal/pipeline"
)

// Client classifies image bytes. Implementations are expected to be
// deterministic for identical content.
type Client interface {
	Infer(ctx context.Context, content []byte) (pipeline.Prediction, error)
}

// Func adapts a plain function to Client.
type Func func(ctx context.Context, content []byte) (pipeline.Prediction, error)

// Infer calls f.
func (f Func) Infer(ctx context.Context, content []byte) (pipeline.Prediction, error) {
	return f(ctx, content)
}

// Static always answers with the same prediction. It backs the standalone
// mode used for smoke tests when no model server is deployed.
func Static(label string, confidence float64) Client {
	p := pipeline.NewPrediction(label, confidence)
	return Func(func(context.Context, []byte) (pipeline.Prediction, error) {
		return p, nil
	})
}
