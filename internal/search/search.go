package search

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jcdickinson/ferrisindex/internal/docs"
	md "github.com/jcdickinson/ferrisindex/internal/markdown"
	"github.com/jcdickinson/ferrisindex/internal/registry"
	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/sahilm/fuzzy"
)

const defaultLimit = 20

// Symbol is one searchable name: a sidebar item ("module::name") or an
// implementing type ("library::Type").
type Symbol struct {
	Kind     string
	Path     string
	Category docs.Category
	Trait    string
	Library  string
	Snippet  string
}

type symbols []Symbol

func (s symbols) String(i int) string { return s[i].Path }
func (s symbols) Len() int            { return len(s) }

// Collect gathers every searchable symbol from the registry, sidebar items
// first, each in registration order.
func Collect(reg *registry.Registry) []Symbol {
	var out []Symbol
	var impls []Symbol
	reg.Walk(
		func(f *docs.ImplementorFile) {
			for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
				for _, im := range pair.Value {
					name := im.TypeName()
					if name == "" {
						continue
					}
					impls = append(impls, Symbol{
						Kind:    "impl",
						Path:    pair.Key + "::" + name,
						Trait:   f.Trait,
						Library: pair.Key,
						Snippet: strings.ReplaceAll(im.Header(), "\n", " "),
					})
				}
			}
		},
		func(f *docs.SidebarFile) {
			for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
				for _, it := range pair.Value {
					out = append(out, Symbol{
						Kind:     string(pair.Key),
						Path:     f.Module + "::" + it.Name,
						Category: pair.Key,
						Snippet:  truncate(md.PlainText(it.Summary), 200),
					})
				}
			}
		},
	)
	return append(out, impls...)
}

// Find ranks syms against query, best match first. Ties keep collection
// order. limit <= 0 selects the default.
func Find(syms []Symbol, query string, limit int) []rpc.SymbolResult {
	if limit <= 0 {
		limit = defaultLimit
	}
	if query == "" || len(syms) == 0 {
		return nil
	}

	matches := fuzzy.FindFrom(query, symbols(syms))
	var results []rpc.SymbolResult
	for _, m := range matches {
		if len(results) >= limit {
			break
		}
		sym := syms[m.Index]
		results = append(results, rpc.SymbolResult{
			Kind:    sym.Kind,
			Path:    sym.Path,
			Trait:   sym.Trait,
			Library: sym.Library,
			Snippet: sym.Snippet,
			URI:     uriFor(sym),
			Score:   m.Score,
		})
	}
	return results
}

func uriFor(sym Symbol) string {
	if sym.Trait != "" {
		return "rsidx://implementors/" + sym.Trait
	}
	module := sym.Path
	if i := strings.LastIndex(module, "::"); i >= 0 {
		module = module[:i]
	}
	return "rsidx://sidebar/" + module
}

// Searcher caches the symbols collected from a registry. Attached to a hub
// after the registry (see registry.Fanout), every new table invalidates the
// cache so the next search re-collects.
type Searcher struct {
	reg *registry.Registry

	mu    sync.Mutex
	syms  []Symbol
	stale bool
}

func NewSearcher(reg *registry.Registry) *Searcher {
	return &Searcher{reg: reg, stale: true}
}

func (s *Searcher) RegisterImplementors(*docs.ImplementorFile) { s.Invalidate() }
func (s *Searcher) RegisterSidebar(*docs.SidebarFile)           { s.Invalidate() }

// Invalidate drops the cached symbols.
func (s *Searcher) Invalidate() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

func (s *Searcher) symbols() []Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale {
		s.syms = Collect(s.reg)
		s.stale = false
	}
	return s.syms
}

// Search runs a fuzzy match of query over everything currently registered.
func (s *Searcher) Search(query string, limit int) []rpc.SymbolResult {
	syms := s.symbols()
	results := Find(syms, query, limit)
	slog.Debug("search", "query", query, "symbols", len(syms), "results", len(results))
	return results
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Cut on a rune boundary.
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
