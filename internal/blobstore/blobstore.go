// Package blobstore implements content-addressed, deduplicating storage
// for capture output. Blobs are named by a truncated BLAKE3 hash and
// sharded two levels deep so no directory holds more than a few
// thousand entries.
package blobstore

import (
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"github.com/shadowlog/shadowlog/internal/shaderrors"
)

const hashHexLen = 32

// Store is content-addressed blob storage rooted at a base directory.
type Store struct {
	basePath             string
	compressionEnabled   bool
	compressionThreshold int
}

// New creates a Store rooted at basePath, creating the blobs/ directory
// if needed. Blobs at least compressionThreshold bytes are zstd-compressed
// on write.
func New(basePath string, compressionThreshold int) (*Store, error) {
	blobsDir := filepath.Join(basePath, "blobs")
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", blobsDir)
	}
	return &Store{
		basePath:             basePath,
		compressionEnabled:   true,
		compressionThreshold: compressionThreshold,
	}, nil
}

// WriteResult reports the outcome of a Write call.
type WriteResult struct {
	Hash       string
	Compressed bool
	IsNew      bool
}

// Write stores data under its BLAKE3 hash, compressing it first if it
// meets the compression threshold. Writing data that already exists is a
// no-op that reports IsNew=false. Writes are atomic: data lands in a
// temp file that is renamed into place only once fully synced.
func (s *Store) Write(data []byte) (WriteResult, error) {
	hash := hashData(data)

	blobPath := s.blobPath(hash)
	if _, err := os.Stat(blobPath); err == nil {
		return WriteResult{Hash: hash, Compressed: false, IsNew: false}, nil
	}

	shouldCompress := s.compressionEnabled && len(data) >= s.compressionThreshold

	tempPath := s.tempPath(hash)
	if err := os.MkdirAll(filepath.Dir(tempPath), 0o755); err != nil {
		return WriteResult{}, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", filepath.Dir(tempPath))
	}

	file, err := os.Create(tempPath)
	if err != nil {
		return WriteResult{}, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", tempPath)
	}

	payload := data
	if shouldCompress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return WriteResult{}, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
		}
		payload = enc.EncodeAll(data, nil)
		enc.Close()
	}

	if _, err := file.Write(payload); err != nil {
		file.Close()
		os.Remove(tempPath)
		return WriteResult{}, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", tempPath)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return WriteResult{}, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", tempPath)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return WriteResult{}, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", tempPath)
	}

	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		os.Remove(tempPath)
		return WriteResult{}, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", filepath.Dir(blobPath))
	}
	if err := os.Rename(tempPath, blobPath); err != nil {
		os.Remove(tempPath)
		return WriteResult{}, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("from", tempPath).WithDetail("to", blobPath)
	}

	return WriteResult{Hash: hash, Compressed: shouldCompress, IsNew: true}, nil
}

// Read returns the decompressed content of the blob with the given hash.
func (s *Store) Read(hash string) ([]byte, error) {
	blobPath := s.blobPath(hash)
	raw, err := os.ReadFile(blobPath)
	if os.IsNotExist(err) {
		return nil, shaderrors.New(shaderrors.ErrCodeBadHash, "blob not found: "+hash, err)
	}
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", blobPath)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return raw, nil
	}
	defer dec.Close()
	decompressed, err := dec.DecodeAll(raw, nil)
	if err != nil {
		// Not compressed, or compressed with an incompatible frame.
		return raw, nil
	}
	return decompressed, nil
}

// Exists reports whether a blob with the given hash is stored.
func (s *Store) Exists(hash string) bool {
	_, err := os.Stat(s.blobPath(hash))
	return err == nil
}

// Delete removes a blob. Callers must ensure no Catalog row still
// references the hash before calling this.
func (s *Store) Delete(hash string) error {
	err := os.Remove(s.blobPath(hash))
	if err != nil && !os.IsNotExist(err) {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("hash", hash)
	}
	return nil
}

// Size returns the on-disk size of a blob, which may differ from its
// decompressed size.
func (s *Store) Size(hash string) (int64, error) {
	info, err := os.Stat(s.blobPath(hash))
	if err != nil {
		return 0, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("hash", hash)
	}
	return info.Size(), nil
}

func hashData(data []byte) string {
	sum := blake3.Sum256(data)
	return toHex(sum[:])[:hashHexLen]
}

const hexDigits = "0123456789abcdef"

func toHex(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}

// blobPath returns the two-level-sharded path for a blob: blobs/ab/cd/<hash>.
func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.basePath, "blobs", hash[0:2], hash[2:4], hash)
}

func (s *Store) tempPath(hash string) string {
	return filepath.Join(s.basePath, "blobs", hash[0:2], hash[2:4], hash+".tmp")
}

// GCStats reports the outcome of a GC sweep.
type GCStats struct {
	TotalBlobs   int
	DeletedBlobs int
	FreedBytes   int64
}

// GC removes any blob not present in referenced, which the caller obtains
// from the Catalog's current refcounts.
func (s *Store) GC(referenced map[string]struct{}) (GCStats, error) {
	var stats GCStats
	err := s.walkBlobs(func(hash, path string) error {
		stats.TotalBlobs++
		if _, ok := referenced[hash]; ok {
			return nil
		}
		if info, err := os.Stat(path); err == nil {
			stats.FreedBytes += info.Size()
		}
		if err := os.Remove(path); err == nil {
			stats.DeletedBlobs++
		}
		return nil
	})
	return stats, err
}

func (s *Store) walkBlobs(callback func(hash, path string) error) error {
	blobsDir := filepath.Join(s.basePath, "blobs")
	shard1Entries, err := os.ReadDir(blobsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("path", blobsDir)
	}

	for _, shard1 := range shard1Entries {
		if !shard1.IsDir() {
			continue
		}
		shard1Path := filepath.Join(blobsDir, shard1.Name())
		shard2Entries, err := os.ReadDir(shard1Path)
		if err != nil {
			return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("path", shard1Path)
		}
		for _, shard2 := range shard2Entries {
			if !shard2.IsDir() {
				continue
			}
			shard2Path := filepath.Join(shard1Path, shard2.Name())
			entries, err := os.ReadDir(shard2Path)
			if err != nil {
				return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("path", shard2Path)
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				name := entry.Name()
				if filepath.Ext(name) == ".tmp" {
					continue
				}
				if err := callback(name, filepath.Join(shard2Path, name)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
