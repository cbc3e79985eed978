package docs

import (
	"encoding/json"
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrMalformed is returned when an artifact does not have the shape rustdoc emits.
	ErrMalformed = errors.New("malformed artifact")
	// ErrUnknownCategory is returned for sidebar keys outside the closed category set.
	ErrUnknownCategory = errors.New("unknown sidebar category")
	// ErrUnknownArtifact is returned for paths that are neither implementor nor sidebar files.
	ErrUnknownArtifact = errors.New("not a rustdoc index artifact")
)

// Implementor is one entry of an implementors index: a rendered impl header
// stating that a type provides the indexed trait.
type Implementor struct {
	Text      string   `json:"text"`
	Synthetic bool     `json:"synthetic"`
	Types     []string `json:"types"`
}

// Libraries maps a library name to its implementor entries in generator order.
type Libraries = orderedmap.OrderedMap[string, []Implementor]

// ImplementorFile is a parsed implementors/**/trait.*.js file.
type ImplementorFile struct {
	Trait     string // e.g. core::fmt::Display
	Libraries *Libraries
}

// NewImplementorFile returns an empty file for trait.
func NewImplementorFile(trait string) *ImplementorFile {
	return &ImplementorFile{Trait: trait, Libraries: orderedmap.New[string, []Implementor]()}
}

// Clone returns a deep copy.
func (f *ImplementorFile) Clone() *ImplementorFile {
	out := NewImplementorFile(f.Trait)
	for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
		out.Libraries.Set(pair.Key, CloneImplementors(pair.Value))
	}
	return out
}

// Len returns the total number of entries across all libraries.
func (f *ImplementorFile) Len() int {
	n := 0
	for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
		n += len(pair.Value)
	}
	return n
}

// CloneImplementors deep-copies entries, normalizing nil Types to an empty list.
func CloneImplementors(in []Implementor) []Implementor {
	out := make([]Implementor, len(in))
	for i, im := range in {
		types := make([]string, len(im.Types))
		copy(types, im.Types)
		out[i] = Implementor{Text: im.Text, Synthetic: im.Synthetic, Types: types}
	}
	return out
}

// Category is a sidebar symbol category.
type Category string

const (
	CategoryConstant Category = "constant"
	CategoryEnum     Category = "enum"
	CategoryFn       Category = "fn"
	CategoryMod      Category = "mod"
	CategoryStruct   Category = "struct"
	CategoryTrait    Category = "trait"
	CategoryType     Category = "type"
)

// Categories lists the closed set of sidebar categories in rustdoc's key order.
var Categories = []Category{
	CategoryConstant,
	CategoryEnum,
	CategoryFn,
	CategoryMod,
	CategoryStruct,
	CategoryTrait,
	CategoryType,
}

// ParseCategory validates s against the closed category set.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Title is the heading used when rendering a category.
func (c Category) Title() string {
	switch c {
	case CategoryConstant:
		return "Constants"
	case CategoryEnum:
		return "Enums"
	case CategoryFn:
		return "Functions"
	case CategoryMod:
		return "Modules"
	case CategoryStruct:
		return "Structs"
	case CategoryTrait:
		return "Traits"
	case CategoryType:
		return "Type Aliases"
	}
	return string(c)
}

// SidebarItem is one public symbol of a module. It is encoded as [name, summary].
type SidebarItem struct {
	Name    string
	Summary string
}

func (it SidebarItem) MarshalJSON() ([]byte, error) {
	return marshalNoEscape([2]string{it.Name, it.Summary})
}

func (it *SidebarItem) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decoding sidebar item: %w", err)
	}
	switch len(parts) {
	case 1:
		*it = SidebarItem{Name: parts[0]}
	case 2:
		*it = SidebarItem{Name: parts[0], Summary: parts[1]}
	default:
		return fmt.Errorf("%w: sidebar item has %d elements", ErrMalformed, len(parts))
	}
	return nil
}

// Sections maps a category to its items in generator order.
type Sections = orderedmap.OrderedMap[Category, []SidebarItem]

// SidebarFile is a parsed sidebar-items.js file.
type SidebarFile struct {
	Module string // e.g. libffi::low
	Items  *Sections
}

// NewSidebarFile returns an empty file for module.
func NewSidebarFile(module string) *SidebarFile {
	return &SidebarFile{Module: module, Items: orderedmap.New[Category, []SidebarItem]()}
}

// Clone returns a deep copy.
func (f *SidebarFile) Clone() *SidebarFile {
	out := NewSidebarFile(f.Module)
	for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
		items := make([]SidebarItem, len(pair.Value))
		copy(items, pair.Value)
		out.Items.Set(pair.Key, items)
	}
	return out
}

// Len returns the total number of items across all categories.
func (f *SidebarFile) Len() int {
	n := 0
	for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
		n += len(pair.Value)
	}
	return n
}

// ArtifactKind distinguishes the two index file formats.
type ArtifactKind string

const (
	KindImplementors ArtifactKind = "implementors"
	KindSidebar      ArtifactKind = "sidebar"
)

// Artifact is one parsed index file.
type Artifact struct {
	Kind    ArtifactKind
	Path    string // slash-separated, relative to the documentation root
	Subject string // trait path for implementors, module path for sidebars
	Raw     []byte

	Implementors *ImplementorFile
	Sidebar      *SidebarFile
}

// Len returns the number of entries the artifact carries.
func (a *Artifact) Len() int {
	switch a.Kind {
	case KindImplementors:
		return a.Implementors.Len()
	case KindSidebar:
		return a.Sidebar.Len()
	}
	return 0
}
