package keywordindex

import "github.com/shadowlog/shadowlog/internal/shaderrors"

// Backend selects which BM25 implementation Open builds.
type Backend string

const (
	BackendBleve  Backend = "bleve"
	BackendSQLite Backend = "sqlite"
)

// Open builds a keyword index of the requested backend at path. An empty
// path builds an in-memory index for either backend.
func Open(backend Backend, path string, config Config) (Index, error) {
	switch backend {
	case "", BackendBleve:
		return NewBleveIndex(path, config)
	case BackendSQLite:
		return NewSQLiteIndex(path, config)
	default:
		return nil, shaderrors.New(shaderrors.ErrCodeConfigInvalid, "unknown keyword index backend: "+string(backend), nil)
	}
}
