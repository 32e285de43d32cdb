// Package keywordindex is an inverted full-text index over capture chunk
// text, scored by BM25. Two backends satisfy the same Index interface: a
// bleve-backed in-process index and a SQLite FTS5-backed index selectable
// via config for deployments that want a single on-disk file alongside the
// catalog.
package keywordindex

// Document is one unit of indexable text.
type Document struct {
	ID      string
	Content string
}

// snippetLength caps the prefix of stored text returned in a Result's
// Snippet field.
const snippetLength = 200

// Result is one scored match from a Search call.
type Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
	Snippet      string
}

// truncateSnippet returns a prefix of s up to snippetLength runes, so a
// multi-byte character never gets split across the cut.
func truncateSnippet(s string) string {
	runes := []rune(s)
	if len(runes) <= snippetLength {
		return s
	}
	return string(runes[:snippetLength])
}

// Stats summarizes an index's contents.
type Stats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// Config holds BM25 and tokenization settings. Neither backend reads K1
// or B: each applies its own scoring parameters. StopWords and
// MinTokenLength are applied by the SQLite backend only; the bleve
// analyzer always filters DefaultStopWords and keeps tokens of any length.
type Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultConfig returns BM25 defaults (k1=1.2, b=0.75) and the default
// stop word list for capture/log text.
func DefaultConfig() Config {
	return Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// Index is the shared contract both backends implement.
type Index interface {
	// Index adds or replaces a single document.
	Index(id, content string) error
	// IndexBatch adds or replaces multiple documents in one operation.
	IndexBatch(docs []Document) error
	Search(query string, limit int) ([]*Result, error)
	Delete(docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *Stats
	Save(path string) error
	Load(path string) error
	Close() error
}
