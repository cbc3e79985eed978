package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jcdickinson/ferrisindex/internal/cas"
	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/db"
	"github.com/jcdickinson/ferrisindex/internal/docs"
	"github.com/jcdickinson/ferrisindex/internal/registry"
	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"gopkg.in/yaml.v3"
)

const testdataRoot = "../docs/testdata"

const displayPath = "implementors/core/fmt/trait.Display.js"

func testServer(t *testing.T, cfg *config.Config) (*Server, *db.DB) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.Store.Driver = "sqlite3"
	if cfg.Load.Concurrency == 0 {
		cfg.Load.Concurrency = 2
	}
	database, err := db.New("sqlite3", filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("creating test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewServer(cfg, database, &registry.Hub{}, filepath.Join(t.TempDir(), "d.sock")), database
}

func serveJSON(t *testing.T, h http.Handler, method, path string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding %s response: %v\n%s", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func load(t *testing.T, h http.Handler, req rpc.LoadRequest) ([]rpc.LoadResult, []string) {
	t.Helper()
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(req)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/load", &buf))
	if rec.Code != http.StatusOK {
		t.Fatalf("load returned %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("unexpected content type %q", ct)
	}

	var results []rpc.LoadResult
	var progress []string
	dec := json.NewDecoder(rec.Body)
	for dec.More() {
		var line rpc.ProgressLine
		if err := dec.Decode(&line); err != nil {
			t.Fatal(err)
		}
		switch line.Type {
		case "progress":
			progress = append(progress, line.Message)
		case "result":
			results = append(results, *line.Result)
		}
	}
	return results, progress
}

func TestLoadRoot_AndQueries(t *testing.T) {
	s, _ := testServer(t, nil)
	if _, err := s.Restore(); err != nil {
		t.Fatal(err)
	}
	h := s.Handler()

	results, progress := load(t, h, rpc.LoadRequest{Roots: []string{testdataRoot}})
	if len(results) != 1 || len(progress) == 0 {
		t.Fatalf("unexpected load output: %+v %v", results, progress)
	}
	res := results[0]
	if res.Error != "" || len(res.Errors) != 0 {
		t.Fatalf("load failed: %+v", res)
	}
	if res.Artifacts != 4 || res.Unchanged != 0 {
		t.Errorf("expected 4 new artifacts, got %+v", res)
	}

	var status rpc.StatusResponse
	if code := serveJSON(t, h, "GET", "/status", nil, &status); code != http.StatusOK {
		t.Fatalf("status returned %d", code)
	}
	if status.Traits != 2 || status.Modules != 2 || status.Stored != 4 || status.Driver != "sqlite3" {
		t.Errorf("unexpected status %+v", status)
	}
	if status.Implementors != 183+118 {
		t.Errorf("expected %d implementors, got %d", 183+118, status.Implementors)
	}

	var impls rpc.ImplementorsResponse
	if code := serveJSON(t, h, "POST", "/implementors", rpc.ImplementorsRequest{Trait: "core::fmt::Display", Library: "xml"}, &impls); code != http.StatusOK {
		t.Fatalf("implementors returned %d", code)
	}
	if len(impls.Libraries) != 1 || impls.Libraries[0].Library != "xml" || len(impls.Libraries[0].Implementors) == 0 {
		t.Errorf("library filter not applied: %+v", impls.Libraries)
	}
	if !strings.Contains(impls.Markdown, "# Implementors of `core::fmt::Display`") {
		t.Errorf("markdown missing heading: %q", impls.Markdown)
	}

	var traits rpc.TraitsForTypeResponse
	serveJSON(t, h, "POST", "/traits-for-type", rpc.TraitsForTypeRequest{Type: "FindIter", Library: "aho_corasick"}, &traits)
	if len(traits.Results) != 2 {
		t.Errorf("expected 2 FindIter impls, got %+v", traits.Results)
	}

	var sidebar rpc.SidebarResponse
	if code := serveJSON(t, h, "POST", "/sidebar", rpc.SidebarRequest{Module: "libffi::low"}, &sidebar); code != http.StatusOK {
		t.Fatalf("sidebar returned %d", code)
	}
	if len(sidebar.Sections) == 0 || sidebar.Sections[0].Category != "constant" {
		t.Errorf("unexpected sections %+v", sidebar.Sections)
	}

	var found rpc.SearchResponse
	serveJSON(t, h, "POST", "/search", rpc.SearchRequest{Query: "CodePtr", Limit: 5}, &found)
	if len(found.Results) == 0 || found.Results[0].Path != "libffi::low::CodePtr" {
		t.Errorf("unexpected search results %+v", found.Results)
	}

	// Loading again stores nothing new.
	results, _ = load(t, h, rpc.LoadRequest{Roots: []string{testdataRoot}})
	if results[0].Unchanged != 4 || results[0].Artifacts != 0 {
		t.Errorf("expected everything unchanged, got %+v", results[0])
	}
}

func TestExport(t *testing.T) {
	s, _ := testServer(t, nil)
	s.Restore()
	h := s.Handler()
	load(t, h, rpc.LoadRequest{Roots: []string{testdataRoot}})

	original, err := os.ReadFile(filepath.Join(testdataRoot, displayPath))
	if err != nil {
		t.Fatal(err)
	}

	var js rpc.ExportResponse
	if code := serveJSON(t, h, "POST", "/export", rpc.ExportRequest{Subject: "core::fmt::Display"}, &js); code != http.StatusOK {
		t.Fatalf("export returned %d", code)
	}
	if js.Path != displayPath || js.Format != rpc.FormatJS {
		t.Errorf("unexpected export metadata %+v", js)
	}
	if js.Content != string(original) {
		t.Error("js export differs from the loaded file")
	}

	var asJSON rpc.ExportResponse
	serveJSON(t, h, "POST", "/export", rpc.ExportRequest{Subject: "libffi::low", Kind: "sidebar", Format: rpc.FormatJSON}, &asJSON)
	var doc exportDoc
	if err := json.Unmarshal([]byte(asJSON.Content), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Kind != "sidebar" || doc.Subject != "libffi::low" || len(doc.Sections) == 0 {
		t.Errorf("unexpected json export %+v", doc)
	}

	var asYAML rpc.ExportResponse
	serveJSON(t, h, "POST", "/export", rpc.ExportRequest{Subject: "core::fmt::Display", Format: rpc.FormatYAML}, &asYAML)
	var ydoc exportDoc
	if err := yaml.Unmarshal([]byte(asYAML.Content), &ydoc); err != nil {
		t.Fatal(err)
	}
	if len(ydoc.Libraries) != 54 || ydoc.Libraries[0].Library != "aho_corasick" {
		t.Errorf("unexpected yaml export: %d libraries", len(ydoc.Libraries))
	}

	var asMD rpc.ExportResponse
	serveJSON(t, h, "POST", "/export", rpc.ExportRequest{Subject: "mpi::request", Format: rpc.FormatMarkdown}, &asMD)
	if !strings.Contains(asMD.Content, "# Module `mpi::request`") {
		t.Errorf("unexpected markdown export %q", asMD.Content)
	}

	if code := serveJSON(t, h, "POST", "/export", rpc.ExportRequest{Subject: "core::fmt::Display", Format: "toml"}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown format, got %d", code)
	}
	if code := serveJSON(t, h, "POST", "/export", rpc.ExportRequest{Subject: "core::fmt::Display", Kind: "sidebar"}, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for wrong kind, got %d", code)
	}
}

func TestRestore_ReplaysStoredArtifacts(t *testing.T) {
	s, database := testServer(t, nil)

	for _, rel := range []string{displayPath, "mpi/request/sidebar-items.js"} {
		a, err := docs.LoadFile(testdataRoot, rel)
		if err != nil {
			t.Fatal(err)
		}
		hash, err := cas.Write(a.Raw)
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := database.StoreArtifact("local", a, hash); err != nil {
			t.Fatal(err)
		}
	}
	// An artifact whose content is gone is skipped.
	lost, _ := docs.LoadFile(testdataRoot, "libffi/low/sidebar-items.js")
	if _, _, err := database.StoreArtifact("local", lost, strings.Repeat("0", 64)); err != nil {
		t.Fatal(err)
	}

	if s.hub.Attached() {
		t.Fatal("registry attached before restore")
	}
	n, err := s.Restore()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 tables flushed, got %d", n)
	}
	if !s.hub.Attached() || s.hub.Pending() != 0 {
		t.Error("expected registry attached with nothing pending")
	}
	if _, ok := s.reg.Implementors("core::fmt::Display"); !ok {
		t.Error("Display not restored")
	}
	if _, ok := s.reg.Sidebar("libffi::low"); ok {
		t.Error("artifact without content should not be restored")
	}
}

func TestLoadFetch(t *testing.T) {
	sidebar, err := os.ReadFile(filepath.Join(testdataRoot, "mpi/request/sidebar-items.js"))
	if err != nil {
		t.Fatal(err)
	}
	docsHost := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mpi/0.6.0/mpi/request/sidebar-items.js" {
			http.NotFound(w, r)
			return
		}
		w.Write(sidebar)
	}))
	defer docsHost.Close()

	cfg := &config.Config{}
	cfg.Fetch.BaseURL = docsHost.URL
	s, _ := testServer(t, cfg)
	s.Restore()
	h := s.Handler()

	results, _ := load(t, h, rpc.LoadRequest{Fetches: []rpc.FetchSpec{{
		Crate:   "mpi",
		Version: "0.6.0",
		Paths:   []string{"mpi/request/sidebar-items.js", "mpi/missing/sidebar-items.js"},
	}}})
	if len(results) != 1 {
		t.Fatalf("expected one result, got %+v", results)
	}
	res := results[0]
	if res.Source != "mpi@0.6.0" || res.Artifacts != 1 || len(res.Errors) != 1 {
		t.Errorf("unexpected fetch result %+v", res)
	}
	if _, ok := s.reg.Sidebar("mpi::request"); !ok {
		t.Error("fetched sidebar not registered")
	}

	results, _ = load(t, h, rpc.LoadRequest{Fetches: []rpc.FetchSpec{{Paths: []string{"x/sidebar-items.js"}}}})
	if results[0].Error == "" {
		t.Error("expected error for missing crate name")
	}
}

func TestClear(t *testing.T) {
	s, database := testServer(t, nil)
	s.Restore()
	h := s.Handler()
	load(t, h, rpc.LoadRequest{Roots: []string{testdataRoot}})

	if code := serveJSON(t, h, "POST", "/clear", nil, nil); code != http.StatusOK {
		t.Fatalf("clear returned %d", code)
	}
	if st := s.reg.Stats(); st != (registry.Stats{}) {
		t.Errorf("registry not cleared: %+v", st)
	}
	if c, _ := database.Counts(); c != (db.Counts{}) {
		t.Errorf("store not cleared: %+v", c)
	}

	// Loading after a clear republishes everything.
	results, _ := load(t, h, rpc.LoadRequest{Roots: []string{testdataRoot}})
	if results[0].Artifacts != 4 {
		t.Errorf("expected 4 artifacts after clear, got %+v", results[0])
	}
}

func TestBadRequests(t *testing.T) {
	s, _ := testServer(t, nil)
	s.Restore()
	h := s.Handler()

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"missing_trait", "/implementors", rpc.ImplementorsRequest{}, http.StatusBadRequest},
		{"unknown_trait", "/implementors", rpc.ImplementorsRequest{Trait: "a::B"}, http.StatusNotFound},
		{"missing_type", "/traits-for-type", rpc.TraitsForTypeRequest{}, http.StatusBadRequest},
		{"missing_module", "/sidebar", rpc.SidebarRequest{}, http.StatusBadRequest},
		{"unknown_module", "/sidebar", rpc.SidebarRequest{Module: "a::b"}, http.StatusNotFound},
		{"missing_query", "/search", rpc.SearchRequest{}, http.StatusBadRequest},
		{"missing_subject", "/export", rpc.ExportRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := serveJSON(t, h, "POST", tt.path, tt.body, nil); code != tt.want {
				t.Errorf("got %d, want %d", code, tt.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/load", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed load body, got %d", rec.Code)
	}
}

func TestSourceQueriesAndForget(t *testing.T) {
	sidebar, err := os.ReadFile(filepath.Join(testdataRoot, "mpi/request/sidebar-items.js"))
	if err != nil {
		t.Fatal(err)
	}
	docsHost := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(sidebar)
	}))
	defer docsHost.Close()

	cfg := &config.Config{}
	cfg.Fetch.BaseURL = docsHost.URL
	s, _ := testServer(t, cfg)
	s.Restore()
	h := s.Handler()

	root, err := filepath.Abs(testdataRoot)
	if err != nil {
		t.Fatal(err)
	}
	load(t, h, rpc.LoadRequest{
		Roots:   []string{root},
		Fetches: []rpc.FetchSpec{{Crate: "mpi", Version: "0.6.0", Paths: []string{"mpi/request/sidebar-items.js"}}},
	})

	var impls rpc.ImplementorsResponse
	if code := serveJSON(t, h, "POST", "/implementors", rpc.ImplementorsRequest{Trait: "core::fmt::Display", Source: root}, &impls); code != http.StatusOK {
		t.Fatalf("implementors by source returned %d", code)
	}
	total := 0
	for _, lib := range impls.Libraries {
		total += len(lib.Implementors)
	}
	if total != 183 {
		t.Errorf("expected 183 stored implementors, got %d", total)
	}
	if code := serveJSON(t, h, "POST", "/implementors", rpc.ImplementorsRequest{Trait: "core::fmt::Display", Source: "mpi@0.6.0"}, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for a source without the trait, got %d", code)
	}

	for _, source := range []string{root, "mpi@0.6.0"} {
		var sb rpc.SidebarResponse
		if code := serveJSON(t, h, "POST", "/sidebar", rpc.SidebarRequest{Module: "mpi::request", Source: source}, &sb); code != http.StatusOK {
			t.Fatalf("sidebar from %s returned %d", source, code)
		}
		if len(sb.Sections) == 0 {
			t.Errorf("no sections stored for %s", source)
		}
	}

	var traits rpc.TraitsForTypeResponse
	serveJSON(t, h, "POST", "/traits-for-type", rpc.TraitsForTypeRequest{Type: "FindIter", Library: "aho_corasick", Source: root}, &traits)
	if len(traits.Results) != 2 {
		t.Errorf("expected 2 stored FindIter impls, got %+v", traits.Results)
	}

	traits = rpc.TraitsForTypeResponse{}
	serveJSON(t, h, "POST", "/traits-for-type", rpc.TraitsForTypeRequest{Library: "aho_corasick"}, &traits)
	if len(traits.Results) == 0 {
		t.Fatal("expected aho_corasick impls")
	}
	for _, ti := range traits.Results {
		if ti.Library != "aho_corasick" {
			t.Errorf("unexpected library in %+v", ti)
		}
	}

	var forgot rpc.ForgetResponse
	if code := serveJSON(t, h, "POST", "/forget", rpc.ForgetRequest{Source: "mpi@0.6.0"}, &forgot); code != http.StatusOK {
		t.Fatalf("forget returned %d", code)
	}
	if forgot.Removed != 1 || forgot.Restored != 4 {
		t.Errorf("unexpected forget result %+v", forgot)
	}
	if _, ok := s.reg.Sidebar("mpi::request"); !ok {
		t.Error("sidebar still loaded from the doc root was dropped")
	}

	forgot = rpc.ForgetResponse{}
	serveJSON(t, h, "POST", "/forget", rpc.ForgetRequest{Source: root}, &forgot)
	if forgot.Removed != 4 || forgot.Restored != 0 {
		t.Errorf("unexpected forget result %+v", forgot)
	}
	if st := s.reg.Stats(); st != (registry.Stats{}) {
		t.Errorf("registry not emptied: %+v", st)
	}
	var found rpc.SearchResponse
	serveJSON(t, h, "POST", "/search", rpc.SearchRequest{Query: "CodePtr"}, &found)
	if len(found.Results) != 0 {
		t.Errorf("search still finds forgotten symbols: %+v", found.Results)
	}

	if code := serveJSON(t, h, "POST", "/forget", rpc.ForgetRequest{Source: root}, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 forgetting an unknown source, got %d", code)
	}
	if code := serveJSON(t, h, "POST", "/forget", rpc.ForgetRequest{}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing source, got %d", code)
	}
}
