// Package embedding provides the Embedder capability used by the vector
// store adapter and cross-modal matcher, following the teacher's
// internal/embedding convention of a small model-agnostic interface plus
// one concrete implementation per provider.
package embedding

import "context"

// Embedder turns text (and optional tags describing its modality or
// origin) into a fixed-dimension vector. Dimension is fixed per process;
// callers must not mix vectors from embedders of different dimension.
type Embedder interface {
	Embed(ctx context.Context, text string, tags ...string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}
