package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/imgclassify/internal/inference"
	"github.com/example/imgclassify/internal/logging"
	"github.com/example/imgclassify/internal/pipeline"
)

// ClassifyMethod is the unary RPC served by the model server. The request is
// a google.protobuf.BytesValue holding the image, the response a
// google.protobuf.Struct with "label" and "confidence".
const ClassifyMethod = "/classifier.v1.Classifier/Classify"

// DialClassifier returns a ready-to-use gRPC inference client.
func DialClassifier(ctx context.Context, addr string, logger *zap.Logger) (inference.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", logging.ErrorField(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClassifier(conn, logger), conn, nil
}

// NewClassifier wraps an existing connection.
func NewClassifier(conn grpc.ClientConnInterface, logger *zap.Logger) inference.Client {
	return &grpcClassifier{conn: conn, logger: logger.Named("grpc_classifier")}
}

type grpcClassifier struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcClassifier) Infer(ctx context.Context, content []byte) (pipeline.Prediction, error) {
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ClassifyMethod, wrapperspb.Bytes(content), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", "", errors.Join(pipeline.ErrInferenceFailed, err))
		g.logger.Error("classifier call failed", logging.ErrorField(wrapped), zap.Int("size", len(content)))
		return pipeline.Prediction{}, wrapped
	}
	return decodePrediction(resp)
}

func decodePrediction(resp *structpb.Struct) (pipeline.Prediction, error) {
	fields := resp.GetFields()
	label, ok := fields["label"].GetKind().(*structpb.Value_StringValue)
	if !ok || label.StringValue == "" {
		return pipeline.Prediction{}, fmt.Errorf("classifier response has no label: %w", pipeline.ErrInferenceFailed)
	}
	confidence, ok := fields["confidence"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return pipeline.Prediction{}, fmt.Errorf("classifier response has no confidence: %w", pipeline.ErrInferenceFailed)
	}
	return pipeline.NewPrediction(label.StringValue, confidence.NumberValue), nil
}
