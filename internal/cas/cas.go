package cas

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/klauspost/compress/zstd"
)

// Dir returns the CAS directory path.
func Dir() string {
	return config.CASDir()
}

// path returns the sharded file path for a hash: cas/<first2>/<rest>.js.zst
func path(hash string) string {
	return filepath.Join(Dir(), hash[:2], hash[2:]+".js.zst")
}

// Hash returns the content address of data.
func Hash(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// Write stores raw artifact bytes in the CAS, returning their SHA-256 hash.
// If the content already exists, this is a no-op.
func Write(data []byte) (string, error) {
	hash := Hash(data)

	p := path(hash)
	if _, err := os.Stat(p); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("creating CAS directory: %w", err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("compressing CAS content: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing zstd writer: %w", err)
	}

	if err := os.WriteFile(p, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("writing CAS file: %w", err)
	}

	return hash, nil
}

// Read retrieves artifact bytes from the CAS by hash.
func Read(hash string) ([]byte, error) {
	if len(hash) < 3 {
		return nil, fmt.Errorf("invalid CAS hash %q", hash)
	}
	f, err := os.Open(path(hash))
	if err != nil {
		return nil, fmt.Errorf("reading CAS file %s: %w", hash, err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing CAS file %s: %w", hash, err)
	}
	return data, nil
}

// Has reports whether hash is stored.
func Has(hash string) bool {
	if len(hash) < 3 {
		return false
	}
	_, err := os.Stat(path(hash))
	return err == nil
}
