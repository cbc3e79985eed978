package docs

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func readTestdata(t *testing.T, rel string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func libraryNames(f *ImplementorFile) []string {
	var names []string
	for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func TestParseImplementors_Display(t *testing.T) {
	t.Parallel()
	f, err := ParseImplementors(readTestdata(t, "implementors/core/fmt/trait.Display.js"))
	if err != nil {
		t.Fatal(err)
	}

	names := libraryNames(f)
	if len(names) != 54 {
		t.Fatalf("expected 54 libraries, got %d", len(names))
	}
	if names[0] != "aho_corasick" || names[len(names)-1] != "xml" {
		t.Errorf("unexpected library order: first=%s last=%s", names[0], names[len(names)-1])
	}
	if f.Len() != 183 {
		t.Errorf("expected 183 entries, got %d", f.Len())
	}

	either, ok := f.Libraries.Get("either")
	if !ok || len(either) != 1 {
		t.Fatalf("expected one either entry, got %v", either)
	}
	if !strings.Contains(either[0].Text, `<span class="where fmt-newline">`) {
		t.Errorf("markup not preserved: %q", either[0].Text)
	}

	for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
		for _, im := range pair.Value {
			if im.Types == nil {
				t.Fatalf("%s: nil types list", pair.Key)
			}
			if im.Synthetic {
				t.Errorf("%s: unexpected synthetic entry %q", pair.Key, im.Text)
			}
		}
	}
}

func TestParseImplementors_KeepsDuplicates(t *testing.T) {
	t.Parallel()
	f, err := ParseImplementors(readTestdata(t, "implementors/core/iter/traits/iterator/trait.Iterator.js"))
	if err != nil {
		t.Fatal(err)
	}
	aho, _ := f.Libraries.Get("aho_corasick")
	var names []string
	for _, im := range aho {
		names = append(names, im.TypeName())
	}
	want := []string{"FindIter", "FindOverlappingIter", "StreamFindIter", "FindIter"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("type names mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []string{
		"implementors/core/fmt/trait.Display.js",
		"implementors/core/iter/traits/iterator/trait.Iterator.js",
		"libffi/low/sidebar-items.js",
		"mpi/request/sidebar-items.js",
	}
	for _, rel := range tests {
		t.Run(rel, func(t *testing.T) {
			data := readTestdata(t, rel)
			a, err := ParseArtifact(rel, data)
			if err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			if err := WriteArtifact(&buf, a); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf.Bytes(), data) {
				t.Errorf("round trip differs:\n got: %.200q\nwant: %.200q", buf.String(), string(data))
			}
		})
	}
}

func TestParseSidebar_Libffi(t *testing.T) {
	t.Parallel()
	f, err := ParseSidebar(readTestdata(t, "libffi/low/sidebar-items.js"))
	if err != nil {
		t.Fatal(err)
	}

	var cats []Category
	for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
		cats = append(cats, pair.Key)
	}
	want := []Category{CategoryConstant, CategoryEnum, CategoryFn, CategoryMod, CategoryStruct, CategoryType}
	if diff := cmp.Diff(want, cats); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}

	fns, _ := f.Items.Get(CategoryFn)
	if len(fns) != 7 || fns[0] != (SidebarItem{Name: "call", Summary: "Calls a C function as specified by a CIF."}) {
		t.Errorf("unexpected fn items: %v", fns)
	}
	structs, _ := f.Items.Get(CategoryStruct)
	if structs[1].Name != "ffi_cif" || structs[1].Summary != "" {
		t.Errorf("expected empty summary for ffi_cif, got %+v", structs[1])
	}
}

func TestParseSidebar_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown_category", `initSidebarItems({"macro":[["vec",""]]});`, ErrUnknownCategory},
		{"no_call", `{"fn":[]}`, ErrMalformed},
		{"unterminated", `initSidebarItems({"fn":[]}`, ErrMalformed},
		{"bad_item", `initSidebarItems({"fn":[["a","b","c"]]});`, ErrMalformed},
		{"bad_json", `initSidebarItems({"fn":[[});`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSidebar([]byte(tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRoundTrip_LineSeparators(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"sidebar_raw", "initSidebarItems({\"fn\":[[\"f\",\"a\u2028b\u2029c\"]]});"},
		{"sidebar_escaped_backslash", `initSidebarItems({"fn":[["f","a\\u2028b"]]});`},
		{"implementors_raw", implementorsPrelude +
			"implementors[\"lib\"] = [{\"text\":\"impl X for Y\u2028\",\"synthetic\":false,\"types\":[\"Y\"]}];\n" +
			implementorsEpilogue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := "m/sidebar-items.js"
			if strings.HasPrefix(tt.name, "implementors") {
				rel = "implementors/a/trait.X.js"
			}
			a, err := ParseArtifact(rel, []byte(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			if err := WriteArtifact(&buf, a); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.body {
				t.Errorf("round trip differs:\n got: %q\nwant: %q", buf.String(), tt.body)
			}
		})
	}
}

func TestParseSidebar_RepeatedCategory(t *testing.T) {
	t.Parallel()
	f, err := ParseSidebar([]byte(`initSidebarItems({"fn":[["a",""]],"struct":[["S",""]],"fn":[["b",""]]});`))
	if err != nil {
		t.Fatal(err)
	}
	var cats []Category
	for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
		cats = append(cats, pair.Key)
	}
	if diff := cmp.Diff([]Category{CategoryFn, CategoryStruct}, cats); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
	fns, _ := f.Items.Get(CategoryFn)
	if diff := cmp.Diff([]SidebarItem{{Name: "b"}}, fns); diff != "" {
		t.Errorf("fn items mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSidebar_SingleElementItem(t *testing.T) {
	t.Parallel()
	f, err := ParseSidebar([]byte(`initSidebarItems({"struct":[["Foo"]]})`))
	if err != nil {
		t.Fatal(err)
	}
	items, _ := f.Items.Get(CategoryStruct)
	if len(items) != 1 || items[0].Name != "Foo" || items[0].Summary != "" {
		t.Errorf("got %+v", items)
	}
}

func TestParseImplementors_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"no_prelude", `implementors["a"] = [];`},
		{"missing_equals", implementorsPrelude + `implementors["a"] [];` + "\n" + implementorsEpilogue},
		{"missing_semicolon", implementorsPrelude + `implementors["a"] = []` + "\n" + implementorsEpilogue},
		{"bad_entries", implementorsPrelude + `implementors["a"] = [{"text":1}];` + "\n" + implementorsEpilogue},
		{"no_epilogue", implementorsPrelude + `implementors["a"] = [];` + "\n"},
		{"trailing_garbage", implementorsPrelude + `implementors["a"] = [];` + "\n" + implementorsEpilogue + "GARBAGE"},
		{"trailing_statement", implementorsPrelude + `implementors["a"] = [];` + "\n" + implementorsEpilogue + "\nalert(1);"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseImplementors([]byte(tt.body))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParseImplementors_LaterKeyWins(t *testing.T) {
	t.Parallel()
	body := implementorsPrelude +
		`implementors["a"] = [{"text":"impl X for A","synthetic":false,"types":[]}];` + "\n" +
		`implementors["b"] = [];` + "\n" +
		`implementors["a"] = [{"text":"impl X for B","synthetic":true,"types":["B"]}];` + "\n" +
		implementorsEpilogue
	f, err := ParseImplementors([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, libraryNames(f)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	a, _ := f.Libraries.Get("a")
	want := []Implementor{{Text: "impl X for B", Synthetic: true, Types: []string{"B"}}}
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteImplementors_NilTypes(t *testing.T) {
	t.Parallel()
	f := NewImplementorFile("x::Y")
	f.Libraries.Set("lib", []Implementor{{Text: "impl&lt;T&gt; Y for Z&lt;T&gt;"}})
	var buf bytes.Buffer
	if err := WriteImplementors(&buf, f); err != nil {
		t.Fatal(err)
	}
	want := `implementors["lib"] = [{"text":"impl&lt;T&gt; Y for Z&lt;T&gt;","synthetic":false,"types":[]}];`
	if !strings.Contains(buf.String(), want) {
		t.Errorf("missing %q in %q", want, buf.String())
	}
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()
	f := NewImplementorFile("x::Y")
	f.Libraries.Set("lib", []Implementor{{Text: "a", Types: []string{"T"}}})
	c := f.Clone()
	entries, _ := c.Libraries.Get("lib")
	entries[0].Types[0] = "mutated"
	entries[0].Text = "mutated"
	orig, _ := f.Libraries.Get("lib")
	if orig[0].Text != "a" || orig[0].Types[0] != "T" {
		t.Errorf("clone shares storage with original: %+v", orig[0])
	}
}
