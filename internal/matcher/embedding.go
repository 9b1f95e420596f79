package matcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// DefaultDimension is the descriptor length produced by the face-api.js
// recognition net used by the capture frontend.
const DefaultDimension = 128

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyEmbedding    = errors.New("embedding is empty")
	ErrInvalidValue      = errors.New("embedding contains NaN or Inf")
)

// Embedding is a biometric feature vector for one captured face.
type Embedding []float64

// Validate checks the embedding at ingestion time. A dim of zero skips the
// length check.
func (e Embedding) Validate(dim int) error {
	if len(e) == 0 {
		return ErrEmptyEmbedding
	}
	if dim > 0 && len(e) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e), dim)
	}
	for i, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w at index %d", ErrInvalidValue, i)
		}
	}
	return nil
}

// ParseEmbedding decodes a JSON array of numbers as stored in the database.
func ParseEmbedding(raw []byte) (Embedding, error) {
	var e Embedding
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return e, nil
}

// JSON encodes the embedding as a JSON array of numbers.
func (e Embedding) JSON() (string, error) {
	data, err := json.Marshal([]float64(e))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
