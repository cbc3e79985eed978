package docs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// WriteImplementors writes f in the implementors script shape rustdoc emits.
func WriteImplementors(w io.Writer, f *ImplementorFile) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(implementorsPrelude)
	for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
		key, err := marshalNoEscape(pair.Key)
		if err != nil {
			return fmt.Errorf("encoding library %q: %w", pair.Key, err)
		}
		entries, err := marshalNoEscape(CloneImplementors(pair.Value))
		if err != nil {
			return fmt.Errorf("encoding entries for %q: %w", pair.Key, err)
		}
		bw.WriteString(implementorsStatement)
		bw.Write(key)
		bw.WriteString("] = ")
		bw.Write(entries)
		bw.WriteString(";\n")
	}
	bw.WriteString(implementorsEpilogue)
	return bw.Flush()
}

// WriteSidebar writes f as an initSidebarItems call.
func WriteSidebar(w io.Writer, f *SidebarFile) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(sidebarPrefix)
	bw.WriteByte('{')
	first := true
	for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
		if !first {
			bw.WriteByte(',')
		}
		first = false

		key, err := marshalNoEscape(string(pair.Key))
		if err != nil {
			return fmt.Errorf("encoding category %q: %w", pair.Key, err)
		}
		items := pair.Value
		if items == nil {
			items = []SidebarItem{}
		}
		value, err := marshalNoEscape(items)
		if err != nil {
			return fmt.Errorf("encoding %s items: %w", pair.Key, err)
		}
		bw.Write(key)
		bw.WriteByte(':')
		bw.Write(value)
	}
	bw.WriteByte('}')
	bw.WriteString(sidebarSuffix)
	return bw.Flush()
}

// WriteArtifact writes whichever table a carries.
func WriteArtifact(w io.Writer, a *Artifact) error {
	switch a.Kind {
	case KindImplementors:
		return WriteImplementors(w, a.Implementors)
	case KindSidebar:
		return WriteSidebar(w, a.Sidebar)
	}
	return fmt.Errorf("%w: kind %q", ErrUnknownArtifact, a.Kind)
}

// marshalNoEscape is json.Marshal without HTML escaping: implementor text
// carries literal markup that must survive a round trip unchanged. rustdoc
// also writes U+2028 and U+2029 raw, which encoding/json always escapes.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators replaces the \u2028 and \u2029 escapes in encoded
// JSON with the raw characters. An escaped backslash is skipped as a pair so
// literal text such as `\\u2028` is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' || i+1 >= len(data) {
			out = append(out, data[i])
			continue
		}
		if data[i+1] == 'u' && i+6 <= len(data) {
			switch string(data[i+2 : i+6]) {
			case "2028":
				out = append(out, "\u2028"...)
				i += 5
				continue
			case "2029":
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		out = append(out, data[i], data[i+1])
		i++
	}
	return out
}
