package docs

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	implementorsPrelude   = "(function() {var implementors = {};\n"
	implementorsStatement = "implementors["
	implementorsEpilogue  = "if (window.register_implementors) {window.register_implementors(implementors);} else {window.pending_implementors = implementors;}})()"

	sidebarPrefix = "initSidebarItems("
	sidebarSuffix = ");"
)

// ParseImplementors parses the body of an implementors/**/trait.*.js file.
// The returned file has no Trait set; use ParseArtifact to derive it from the path.
func ParseImplementors(data []byte) (*ImplementorFile, error) {
	if !bytes.HasPrefix(data, []byte(implementorsPrelude)) {
		return nil, fmt.Errorf("%w: missing implementors prelude", ErrMalformed)
	}

	file := NewImplementorFile("")
	pos := len(implementorsPrelude)
	for {
		pos = skipSpace(data, pos)
		rest := data[pos:]
		if !bytes.HasPrefix(rest, []byte(implementorsStatement)) {
			break
		}
		pos += len(implementorsStatement)

		var library string
		n, err := decodeAt(data, pos, &library)
		if err != nil {
			return nil, fmt.Errorf("%w: offset %d: library key: %v", ErrMalformed, pos, err)
		}
		pos += n

		if pos, err = expect(data, pos, "] = "); err != nil {
			return nil, err
		}

		var entries []Implementor
		n, err = decodeAt(data, pos, &entries)
		if err != nil {
			return nil, fmt.Errorf("%w: offset %d: entries for %q: %v", ErrMalformed, pos, library, err)
		}
		pos += n

		if pos, err = expect(data, pos, ";"); err != nil {
			return nil, err
		}

		// A library key assigned twice keeps the later value, as the script would.
		file.Libraries.Set(library, CloneImplementors(entries))
	}

	// Only whitespace may follow the epilogue.
	if !bytes.Equal(bytes.TrimSpace(data[pos:]), []byte(implementorsEpilogue)) {
		return nil, fmt.Errorf("%w: offset %d: missing registration epilogue", ErrMalformed, pos)
	}
	return file, nil
}

// ParseSidebar parses the body of a sidebar-items.js file.
// The returned file has no Module set; use ParseArtifact to derive it from the path.
func ParseSidebar(data []byte) (*SidebarFile, error) {
	body := bytes.TrimSpace(data)
	if !bytes.HasPrefix(body, []byte(sidebarPrefix)) {
		return nil, fmt.Errorf("%w: missing initSidebarItems call", ErrMalformed)
	}
	body = body[len(sidebarPrefix):]
	switch {
	case bytes.HasSuffix(body, []byte(sidebarSuffix)):
		body = body[:len(body)-len(sidebarSuffix)]
	case bytes.HasSuffix(body, []byte(")")):
		body = body[:len(body)-1]
	default:
		return nil, fmt.Errorf("%w: unterminated initSidebarItems call", ErrMalformed)
	}

	raw := orderedmap.New[string, []SidebarItem]()
	if err := json.Unmarshal(body, raw); err != nil {
		return nil, fmt.Errorf("%w: decoding sidebar items: %v", ErrMalformed, err)
	}

	file := NewSidebarFile("")
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		cat, err := ParseCategory(pair.Key)
		if err != nil {
			return nil, err
		}
		items := pair.Value
		if items == nil {
			items = []SidebarItem{}
		}
		file.Items.Set(cat, items)
	}
	return file, nil
}

// ParseArtifact classifies rel and parses data accordingly.
func ParseArtifact(rel string, data []byte) (*Artifact, error) {
	kind, subject, err := Classify(rel)
	if err != nil {
		return nil, err
	}

	a := &Artifact{Kind: kind, Path: rel, Subject: subject, Raw: data}
	switch kind {
	case KindImplementors:
		f, err := ParseImplementors(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", rel, err)
		}
		f.Trait = subject
		a.Implementors = f
	case KindSidebar:
		f, err := ParseSidebar(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", rel, err)
		}
		f.Module = subject
		a.Sidebar = f
	}
	return a, nil
}

// decodeAt decodes one JSON value starting at data[pos:] and returns the
// number of bytes consumed.
func decodeAt(data []byte, pos int, v any) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(data[pos:]))
	if err := dec.Decode(v); err != nil {
		return 0, err
	}
	return int(dec.InputOffset()), nil
}

func expect(data []byte, pos int, tok string) (int, error) {
	if !bytes.HasPrefix(data[pos:], []byte(tok)) {
		return pos, fmt.Errorf("%w: offset %d: expected %q", ErrMalformed, pos, tok)
	}
	return pos + len(tok), nil
}

func skipSpace(data []byte, pos int) int {
	for pos < len(data) {
		switch data[pos] {
		case ' ', '\t', '\r', '\n':
			pos++
		default:
			return pos
		}
	}
	return pos
}
