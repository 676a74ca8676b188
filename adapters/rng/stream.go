package rng

import (
	"context"
	"math/rand"
)

// StreamAdapter implements ports.RNGPort with seeds derived from stream names
type StreamAdapter struct{}

// NewStreamAdapter creates a new stream adapter
func NewStreamAdapter() *StreamAdapter {
	return &StreamAdapter{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (r *StreamAdapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	if name == "" {
		return rand.New(rand.NewSource(seed)), nil
	}
	return rand.New(rand.NewSource(mix(uint64(seed) ^ uint64(hashString(name))<<32))), nil
}

// Stream creates a deterministic RNG stream for one replicate of one keyed artifact.
// The seed depends only on its arguments, never on scheduling order.
func (r *StreamAdapter) Stream(ctx context.Context, stageName, key string, index int, baseSeed int64) (*rand.Rand, error) {
	h := uint64(baseSeed)
	if stageName != "" {
		h = mixStep(h, uint64(hashString(stageName)))
	}
	if key != "" {
		h = mixStep(h, uint64(hashString(key)))
	}
	h = mixStep(h, uint64(index))
	return rand.New(rand.NewSource(mix(h))), nil
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}

func mixStep(h, v uint64) uint64 {
	return mix64(h ^ (v + 0x9e3779b97f4a7c15 + (h << 6) + (h >> 2)))
}

// mix64 is the splitmix64 finalizer
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func mix(h uint64) int64 {
	return int64(mix64(h) & (1<<63 - 1))
}
