package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.vec, c.err
}

type mapCache struct {
	data   map[string][]byte
	getErr error
}

func (m *mapCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *mapCache) SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	m.data[key] = val
	return nil
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity(nil, []float32{1}))
	assert.Zero(t, CosineSimilarity([]float32{1, 2}, []float32{1}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestCachedEmbedder_HitsCacheOnSecondCall(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{vec: []float32{0.25, -1, 3}}
	cache := &mapCache{data: map[string][]byte{}}
	e := NewCachedEmbedder(inner, cache, "m", time.Hour, nil)

	v1, err := e.Embed(ctx, "cozy farming")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "cozy farming")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, v1, v2)
	assert.Len(t, cache.data, 1)
}

func TestCachedEmbedder_CacheErrorFallsThrough(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1}}
	cache := &mapCache{data: map[string][]byte{}, getErr: errors.New("down")}
	e := NewCachedEmbedder(inner, cache, "m", time.Hour, nil)

	v, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)
	assert.Equal(t, 1, inner.calls)
}

func TestEmbedKeywords_EmptyIsNil(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1}}
	v, err := EmbedKeywords(context.Background(), inner, []string{" "})
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Zero(t, inner.calls)
}

func TestOllamaClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.25]]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-embed")
	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, v)
}

func TestOllamaClient_EmbedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "x").Embed(context.Background(), "hello")
	require.Error(t, err)
}
