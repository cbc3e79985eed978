package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/jcdickinson/ferrisindex/internal/docs"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry is the merged, insertion-ordered view of every registered table.
// Entries are never modified after registration; all reads return copies.
type Registry struct {
	mu           sync.RWMutex
	implementors *orderedmap.OrderedMap[string, *docs.ImplementorFile]
	sidebars     *orderedmap.OrderedMap[string, *docs.SidebarFile]
}

func New() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Reset drops everything registered so far.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.implementors = orderedmap.New[string, *docs.ImplementorFile]()
	r.sidebars = orderedmap.New[string, *docs.SidebarFile]()
}

// RegisterImplementors merges f into the table for f.Trait.
// Per library the result is the multiset union of the existing and incoming
// entries: registering the same file twice changes nothing, and entries
// already present keep their position.
func (r *Registry) RegisterImplementors(f *docs.ImplementorFile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.implementors.Get(f.Trait)
	if !ok {
		r.implementors.Set(f.Trait, f.Clone())
		return
	}
	for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
		cur, _ := existing.Libraries.Get(pair.Key)
		existing.Libraries.Set(pair.Key, unionEntries(cur, docs.CloneImplementors(pair.Value), implementorKey))
	}
}

// RegisterSidebar merges f into the table for f.Module, per category, with
// the same union semantics as RegisterImplementors.
func (r *Registry) RegisterSidebar(f *docs.SidebarFile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sidebars.Get(f.Module)
	if !ok {
		r.sidebars.Set(f.Module, f.Clone())
		return
	}
	for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
		cur, _ := existing.Items.Get(pair.Key)
		incoming := make([]docs.SidebarItem, len(pair.Value))
		copy(incoming, pair.Value)
		existing.Items.Set(pair.Key, unionEntries(cur, incoming, func(it docs.SidebarItem) docs.SidebarItem { return it }))
	}
}

// unionEntries appends to cur each incoming entry whose occurrence count in
// incoming exceeds its count in cur. Duplicates within a single table are
// therefore kept, while re-registering a table adds nothing.
func unionEntries[T any, K comparable](cur, incoming []T, key func(T) K) []T {
	have := make(map[K]int, len(cur))
	for _, v := range cur {
		have[key(v)]++
	}
	seen := make(map[K]int, len(incoming))
	for _, v := range incoming {
		k := key(v)
		seen[k]++
		if seen[k] > have[k] {
			cur = append(cur, v)
		}
	}
	if cur == nil {
		cur = []T{}
	}
	return cur
}

type entryKey struct {
	text      string
	synthetic bool
	types     string
}

func implementorKey(im docs.Implementor) entryKey {
	return entryKey{text: im.Text, synthetic: im.Synthetic, types: strings.Join(im.Types, "\x00")}
}

// Implementors returns a copy of the merged table for trait.
func (r *Registry) Implementors(trait string) (*docs.ImplementorFile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.implementors.Get(trait)
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// Sidebar returns a copy of the merged table for module.
func (r *Registry) Sidebar(module string) (*docs.SidebarFile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.sidebars.Get(module)
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// Traits lists registered traits in registration order.
func (r *Registry) Traits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for pair := r.implementors.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Modules lists registered modules in registration order.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for pair := r.sidebars.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// TraitImpl records that a library's type implements a trait.
type TraitImpl struct {
	Trait       string
	Library     string
	Implementor docs.Implementor
}

// TraitsForType finds every registered implementor whose implementing type
// is named typeName. When library is non-empty only that library is searched.
func (r *Registry) TraitsForType(typeName, library string) []TraitImpl {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TraitImpl
	for tp := r.implementors.Oldest(); tp != nil; tp = tp.Next() {
		for lp := tp.Value.Libraries.Oldest(); lp != nil; lp = lp.Next() {
			if library != "" && lp.Key != library {
				continue
			}
			for _, im := range lp.Value {
				if im.TypeName() == typeName {
					out = append(out, TraitImpl{
						Trait:       tp.Key,
						Library:     lp.Key,
						Implementor: docs.CloneImplementors([]docs.Implementor{im})[0],
					})
				}
			}
		}
	}
	return out
}

// Libraries returns every library name seen across all traits, sorted.
func (r *Registry) Libraries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]bool)
	for tp := r.implementors.Oldest(); tp != nil; tp = tp.Next() {
		for lp := tp.Value.Libraries.Oldest(); lp != nil; lp = lp.Next() {
			set[lp.Key] = true
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the registry contents.
type Stats struct {
	Traits       int
	Modules      int
	Implementors int
	SidebarItems int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Traits: r.implementors.Len(), Modules: r.sidebars.Len()}
	for pair := r.implementors.Oldest(); pair != nil; pair = pair.Next() {
		s.Implementors += pair.Value.Len()
	}
	for pair := r.sidebars.Oldest(); pair != nil; pair = pair.Next() {
		s.SidebarItems += pair.Value.Len()
	}
	return s
}

// Walk calls fn for every registered table, implementors first, each in
// registration order. The tables passed to fn are copies.
func (r *Registry) Walk(fnImpl func(*docs.ImplementorFile), fnSidebar func(*docs.SidebarFile)) {
	r.mu.RLock()
	var impls []*docs.ImplementorFile
	for pair := r.implementors.Oldest(); pair != nil; pair = pair.Next() {
		impls = append(impls, pair.Value.Clone())
	}
	var sidebars []*docs.SidebarFile
	for pair := r.sidebars.Oldest(); pair != nil; pair = pair.Next() {
		sidebars = append(sidebars, pair.Value.Clone())
	}
	r.mu.RUnlock()

	if fnImpl != nil {
		for _, f := range impls {
			fnImpl(f)
		}
	}
	if fnSidebar != nil {
		for _, f := range sidebars {
			fnSidebar(f)
		}
	}
}
