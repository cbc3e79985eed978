package docs

import (
	"fmt"
	"path"
	"strings"
)

const (
	implementorsDir = "implementors"
	sidebarFile     = "sidebar-items.js"
	traitPrefix     = "trait."
	scriptExt       = ".js"
)

// Classify determines the artifact kind and subject for a documentation-root
// relative path. Paths use forward slashes.
func Classify(rel string) (ArtifactKind, string, error) {
	rel = strings.TrimPrefix(path.Clean(rel), "/")
	if trait, err := TraitFromPath(rel); err == nil {
		return KindImplementors, trait, nil
	}
	if module, err := ModuleFromPath(rel); err == nil {
		return KindSidebar, module, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnknownArtifact, rel)
}

// TraitFromPath maps implementors/core/fmt/trait.Display.js to core::fmt::Display.
func TraitFromPath(rel string) (string, error) {
	segs := strings.Split(rel, "/")
	if len(segs) < 3 || segs[0] != implementorsDir {
		return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, rel)
	}
	last := segs[len(segs)-1]
	if !strings.HasPrefix(last, traitPrefix) || !strings.HasSuffix(last, scriptExt) {
		return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, rel)
	}
	name := strings.TrimSuffix(strings.TrimPrefix(last, traitPrefix), scriptExt)
	if name == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, rel)
	}
	parts := append(append([]string{}, segs[1:len(segs)-1]...), name)
	return strings.Join(parts, "::"), nil
}

// ModuleFromPath maps libffi/low/sidebar-items.js to libffi::low.
func ModuleFromPath(rel string) (string, error) {
	segs := strings.Split(rel, "/")
	if len(segs) < 2 || segs[len(segs)-1] != sidebarFile || segs[0] == implementorsDir {
		return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, rel)
	}
	for _, s := range segs[:len(segs)-1] {
		if s == "" || s == "." || s == ".." {
			return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, rel)
		}
	}
	return strings.Join(segs[:len(segs)-1], "::"), nil
}

// ImplementorsPath is the inverse of TraitFromPath.
func ImplementorsPath(trait string) string {
	segs := strings.Split(trait, "::")
	segs[len(segs)-1] = traitPrefix + segs[len(segs)-1] + scriptExt
	return path.Join(append([]string{implementorsDir}, segs...)...)
}

// SidebarPath is the inverse of ModuleFromPath.
func SidebarPath(module string) string {
	return path.Join(append(strings.Split(module, "::"), sidebarFile)...)
}
