package docs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// IsArtifactPath reports whether rel looks like an implementors or sidebar file.
func IsArtifactPath(rel string) bool {
	_, _, err := Classify(filepath.ToSlash(rel))
	return err == nil
}

// LoadDir walks a rustdoc output directory and parses every index artifact in
// it. Artifacts are returned in walk order. Files that fail to parse are
// skipped and reported through the joined error; a walk failure aborts.
func LoadDir(ctx context.Context, root string, concurrency int) ([]*Artifact, error) {
	var rels []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if IsArtifactPath(rel) {
			rels = append(rels, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	slog.Debug("found index artifacts", "root", root, "count", len(rels))

	if concurrency <= 0 {
		concurrency = 4
	}

	artifacts := make([]*Artifact, len(rels))
	failures := make([]error, len(rels))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, rel := range rels {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a, err := LoadFile(root, rel)
			if err != nil {
				failures[i] = err
				return nil
			}
			artifacts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := artifacts[:0]
	for _, a := range artifacts {
		if a != nil {
			out = append(out, a)
		}
	}
	return out, errors.Join(failures...)
}

// LoadFile reads and parses root/rel.
func LoadFile(root, rel string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return ParseArtifact(rel, data)
}

// SplitRoot returns the known root containing abs and the root-relative
// artifact path. Implementor files outside every known root are still
// located by their implementors/ segment.
func SplitRoot(abs string, knownRoots []string) (string, string, bool) {
	slashed := filepath.ToSlash(abs)
	for _, root := range knownRoots {
		r := strings.TrimSuffix(filepath.ToSlash(root), "/") + "/"
		if strings.HasPrefix(slashed, r) {
			rel := strings.TrimPrefix(slashed, r)
			if IsArtifactPath(rel) {
				return root, rel, true
			}
		}
	}
	if i := strings.LastIndex(slashed, "/"+implementorsDir+"/"); i >= 0 {
		rel := slashed[i+1:]
		if IsArtifactPath(rel) {
			return filepath.FromSlash(slashed[:i]), rel, true
		}
	}
	return "", "", false
}
