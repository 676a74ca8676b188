package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)

	// Stream creates a deterministic RNG stream for one replicate of one community.
	// Identical (stage, key, index, seed) always yields an identical stream, whatever
	// order replicates are scheduled in.
	Stream(ctx context.Context, stageName, key string, index int, baseSeed int64) (*rand.Rand, error)
}
