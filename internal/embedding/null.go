package embedding

import "context"

// NullEmbedder is a zero-vector stand-in used when no embedding backend is
// reachable at startup. It keeps the Searcher's keyword path fully
// functional while reporting Available() == false so callers can skip the
// semantic half of a hybrid query instead of fusing against noise.
type NullEmbedder struct {
	dims int
}

var _ Embedder = (*NullEmbedder)(nil)

// NewNullEmbedder returns an embedder that always produces zero vectors of
// the given dimensionality.
func NewNullEmbedder(dims int) *NullEmbedder {
	if dims <= 0 {
		dims = 1
	}
	return &NullEmbedder{dims: dims}
}

func (e *NullEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, e.dims), nil
}

func (e *NullEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}

func (e *NullEmbedder) Dimensions() int { return e.dims }

func (e *NullEmbedder) ModelName() string { return "none" }

func (e *NullEmbedder) Available(_ context.Context) bool { return false }

func (e *NullEmbedder) Close() error { return nil }
