package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

const mockDimensions = 64

// MockClient produces deterministic pseudo-embeddings derived from the
// input text, so tests get stable non-zero vectors without a network.
type MockClient struct {
	mu    sync.Mutex
	Err   error // returned by every Embed call when set
	Calls int
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Embed(_ context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.Calls++
	err := c.Err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, mockDimensions)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>16)%1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
