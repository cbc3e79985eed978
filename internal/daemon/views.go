package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jcdickinson/ferrisindex/internal/db"
	"github.com/jcdickinson/ferrisindex/internal/docs"
	md "github.com/jcdickinson/ferrisindex/internal/markdown"
	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"gopkg.in/yaml.v3"
)

// implementorsResponse converts a merged table. When library is set, only
// that library's entries are kept.
func implementorsResponse(f *docs.ImplementorFile, library string) rpc.ImplementorsResponse {
	if library != "" {
		filtered := docs.NewImplementorFile(f.Trait)
		if entries, ok := f.Libraries.Get(library); ok {
			filtered.Libraries.Set(library, entries)
		}
		f = filtered
	}
	return rpc.ImplementorsResponse{
		Trait:     f.Trait,
		Libraries: libraryViews(f),
		Markdown:  md.RenderImplementors(f),
	}
}

func libraryViews(f *docs.ImplementorFile) []rpc.LibraryImplementors {
	out := []rpc.LibraryImplementors{}
	for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
		lib := rpc.LibraryImplementors{Library: pair.Key, Implementors: []rpc.Implementor{}}
		for _, im := range docs.CloneImplementors(pair.Value) {
			lib.Implementors = append(lib.Implementors, rpc.Implementor{
				Text:      im.Text,
				Header:    im.Header(),
				TypeName:  im.TypeName(),
				Synthetic: im.Synthetic,
				Types:     im.Types,
			})
		}
		out = append(out, lib)
	}
	return out
}

func sidebarResponse(f *docs.SidebarFile) rpc.SidebarResponse {
	return rpc.SidebarResponse{
		Module:   f.Module,
		Sections: sectionViews(f),
		Markdown: md.RenderSidebar(f),
	}
}

func sectionViews(f *docs.SidebarFile) []rpc.SidebarSection {
	out := []rpc.SidebarSection{}
	for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
		sec := rpc.SidebarSection{Category: string(pair.Key), Title: pair.Key.Title(), Items: []rpc.SidebarItem{}}
		for _, it := range pair.Value {
			sec.Items = append(sec.Items, rpc.SidebarItem{Name: it.Name, Summary: it.Summary})
		}
		out = append(out, sec)
	}
	return out
}

// storedImplementors reassembles, in file order, the rows source contributed
// for trait. Libraries the source listed with no entries have no rows and
// are absent.
func storedImplementors(trait, source string, rows []db.ImplementorRow) (*docs.ImplementorFile, bool) {
	f := docs.NewImplementorFile(trait)
	for _, r := range rows {
		if r.Source != source {
			continue
		}
		entries, _ := f.Libraries.Get(r.Library)
		f.Libraries.Set(r.Library, append(entries, r.Implementor()))
	}
	return f, f.Libraries.Len() > 0
}

func storedSidebar(module, source string, rows []db.SidebarRow) (*docs.SidebarFile, bool) {
	f := docs.NewSidebarFile(module)
	for _, r := range rows {
		if r.Source != source {
			continue
		}
		items, _ := f.Items.Get(r.Category)
		f.Items.Set(r.Category, append(items, docs.SidebarItem{Name: r.Name, Summary: r.Summary}))
	}
	return f, f.Items.Len() > 0
}

// storedTraitImpls converts rows, keeping only those from source when it is
// set.
func storedTraitImpls(rows []db.ImplementorRow, source string) []rpc.TraitImpl {
	out := []rpc.TraitImpl{}
	for _, r := range rows {
		if source != "" && r.Source != source {
			continue
		}
		out = append(out, rpc.TraitImpl{
			Trait:     r.Trait,
			Library:   r.Library,
			Header:    r.Implementor().Header(),
			Synthetic: r.Synthetic,
		})
	}
	return out
}

// exportDoc is the structured form used for the json and yaml formats.
type exportDoc struct {
	Kind      string                    `json:"kind" yaml:"kind"`
	Subject   string                    `json:"subject" yaml:"subject"`
	Path      string                    `json:"path" yaml:"path"`
	Libraries []rpc.LibraryImplementors `json:"libraries,omitempty" yaml:"libraries,omitempty"`
	Sections  []rpc.SidebarSection      `json:"sections,omitempty" yaml:"sections,omitempty"`
}

func export(a *docs.Artifact, format string) (rpc.ExportResponse, error) {
	if format == "" {
		format = rpc.FormatJS
	}
	resp := rpc.ExportResponse{Kind: string(a.Kind), Path: a.Path, Format: format}

	doc := exportDoc{Kind: string(a.Kind), Subject: a.Subject, Path: a.Path}
	switch a.Kind {
	case docs.KindImplementors:
		doc.Libraries = libraryViews(a.Implementors)
	case docs.KindSidebar:
		doc.Sections = sectionViews(a.Sidebar)
	}

	var buf bytes.Buffer
	switch format {
	case rpc.FormatJS:
		if err := docs.WriteArtifact(&buf, a); err != nil {
			return resp, err
		}
	case rpc.FormatJSON:
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return resp, err
		}
	case rpc.FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return resp, err
		}
		if err := enc.Close(); err != nil {
			return resp, err
		}
	case rpc.FormatMarkdown:
		switch a.Kind {
		case docs.KindImplementors:
			buf.WriteString(md.RenderImplementors(a.Implementors))
		case docs.KindSidebar:
			buf.WriteString(md.RenderSidebar(a.Sidebar))
		}
	default:
		return resp, fmt.Errorf("unknown export format %q (want js, json, yaml or markdown)", format)
	}
	resp.Content = buf.String()
	return resp, nil
}
