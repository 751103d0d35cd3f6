package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/suPer8Hu/playmate/internal/logger"
)

// Cache is the byte store behind CachedEmbedder; redisstore.Store satisfies it.
type Cache interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// CachedEmbedder memoizes vectors by content hash. Cache failures degrade to
// a direct call.
type CachedEmbedder struct {
	inner Embedder
	cache Cache
	model string
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedEmbedder(inner Embedder, cache Cache, model string, ttl time.Duration, log *logger.Logger) *CachedEmbedder {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
		model: model,
		ttl:   ttl,
		log:   log.With("service", "CachedEmbedder"),
	}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := "embed:" + e.model + ":" + ContentHash(text)

	if e.cache != nil {
		raw, ok, err := e.cache.GetBytes(ctx, key)
		if err != nil {
			e.log.Warn("embedding cache lookup failed", "error", err)
		} else if ok {
			return BytesToFloat32(raw), nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetBytes(ctx, key, Float32ToBytes(vec), e.ttl); err != nil {
			e.log.Warn("embedding cache store failed", "error", err)
		}
	}
	return vec, nil
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

// Float32ToBytes converts a float32 slice to a byte slice (little-endian).
func Float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
