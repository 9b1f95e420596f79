// Package extractor describes the remote service that turns a camera frame
// into a face descriptor.
package extractor

import (
	"context"
	"errors"

	"github.com/example/chamada/internal/matcher"
)

// ErrNoFace is returned when the frame contains no detectable face.
var ErrNoFace = errors.New("no face detected")

// Client exposes the subset of functionality used by the attendance flow.
type Client interface {
	Extract(ctx context.Context, image []byte, contentType string) (matcher.Embedding, error)
}
