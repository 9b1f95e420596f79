package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/chamada/internal/extractor"
	"github.com/example/chamada/internal/logging"
	"github.com/example/chamada/internal/matcher"
)

// ExtractMethod is the unary RPC served by the descriptor extractor. Request
// and response are google.protobuf.Struct messages.
const ExtractMethod = "/chamada.DescriptorExtractor/Extract"

// DialExtractor returns a ready-to-use gRPC client for the descriptor extractor.
func DialExtractor(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger) (extractor.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_extractor", "", err)
		logger.Error("failed to dial descriptor extractor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewExtractor(conn, timeout, logger), conn, nil
}

// NewExtractor wraps an existing connection.
func NewExtractor(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) extractor.Client {
	return &grpcExtractor{conn: conn, timeout: timeout, logger: logger.Named("extractor")}
}

type grpcExtractor struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

func (g *grpcExtractor) Extract(ctx context.Context, image []byte, contentType string) (matcher.Embedding, error) {
	requestID := logging.RequestIDFromContext(ctx)
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{
		"image":        base64.StdEncoding.EncodeToString(image),
		"content_type": contentType,
	})
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ExtractMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.extract", requestID, err)
		g.logger.Error("descriptor extraction failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return decodeDescriptor(resp)
}

func decodeDescriptor(resp *structpb.Struct) (matcher.Embedding, error) {
	fields := resp.GetFields()
	if detected, ok := fields["detected"]; ok && !detected.GetBoolValue() {
		return nil, extractor.ErrNoFace
	}
	list := fields["descriptor"].GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil, extractor.ErrNoFace
	}

	values := list.GetValues()
	embedding := make(matcher.Embedding, len(values))
	for i, v := range values {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("descriptor value %d is not a number", i)
		}
		embedding[i] = n.NumberValue
	}
	return embedding, nil
}
