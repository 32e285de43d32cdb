package catalog

// Session is one capture session: a bounded span of shell activity.
type Session struct {
	ID            string
	Name          string
	StartedAt     int64
	StoppedAt     *int64
	Status        string
	CaptureCount  int
	BlobCount     int
}

// Capture is one recorded command/output pair within a session.
type Capture struct {
	ID         int64
	SessionID  string
	Timestamp  int64
	Command    string
	OutputHash string
	Tool       string
	ExitCode   *int
	Cwd        string
}

// Blob is the catalog-side metadata record for a content-addressed blob.
type Blob struct {
	Hash       string
	Size       int64
	CreatedAt  int64
	Compressed bool
	RefCount   int
}

// Chunk is one filtered/clustered unit of capture output destined for
// embedding and keyword indexing.
type Chunk struct {
	ID                 int64
	CaptureID          int64
	BlobHash           string
	RepresentativeText string
	ClusterSize        int
	Metadata           string
}

// Embedding is the dense vector produced for a chunk.
type Embedding struct {
	ChunkID   int64
	Vector    []byte
	Model     string
	CreatedAt int64
}

// Entity is one extracted entity tied to a capture.
type Entity struct {
	ID         int64
	CaptureID  int64
	Type       string
	Value      string
	Context    string
	Confidence float32

	// Redact marks an entity whose value should be masked before display
	// or export, set from the pattern that extracted it.
	Redact bool
}
