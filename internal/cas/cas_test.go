package cas

import (
	"bytes"
	"errors"
	"io/fs"
	"testing"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	content := []byte(`initSidebarItems({"fn":[["scope","Used to create a ` + "`LocalScope`" + `"]]});`)
	hash, err := Write(content)
	if err != nil {
		t.Fatal(err)
	}
	if hash != Hash(content) {
		t.Fatalf("Write returned %s, Hash gives %s", hash, Hash(content))
	}
	if !Has(hash) {
		t.Error("expected Has=true after write")
	}

	got, err := Read(hash)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("round-trip failed: got %q, want %q", got, content)
	}
}

func TestWrite_Dedup(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	content := []byte("duplicate content")
	hash1, err := Write(content)
	if err != nil {
		t.Fatal(err)
	}
	hash2, err := Write(content)
	if err != nil {
		t.Fatal(err)
	}
	if hash1 != hash2 {
		t.Errorf("same content produced different hashes: %s vs %s", hash1, hash2)
	}
}

func TestWrite_DifferentContent(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	hash1, err := Write([]byte("content A"))
	if err != nil {
		t.Fatal(err)
	}
	hash2, err := Write([]byte("content B"))
	if err != nil {
		t.Fatal(err)
	}
	if hash1 == hash2 {
		t.Error("different content should produce different hashes")
	}
}

func TestRead_MissingHash(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	hash := "0000000000000000000000000000000000000000000000000000000000000000"
	if Has(hash) {
		t.Error("expected Has=false for missing hash")
	}
	_, err := Read(hash)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestRead_InvalidHash(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	if _, err := Read("ab"); err == nil {
		t.Error("expected error for short hash")
	}
	if Has("") {
		t.Error("expected Has=false for empty hash")
	}
}
