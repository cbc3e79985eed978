package rpc

// LoadRequest is the request body for POST /load.
type LoadRequest struct {
	Roots   []string    `json:"roots,omitempty"`
	Fetches []FetchSpec `json:"fetches,omitempty"`
}

// FetchSpec names artifacts to download from a docs host.
type FetchSpec struct {
	Crate   string   `json:"crate"`
	Version string   `json:"version,omitempty"`
	Paths   []string `json:"paths"`
}

// LoadResponse is the response body for POST /load.
type LoadResponse struct {
	Results []LoadResult `json:"results"`
}

// LoadResult summarizes one root or fetch. Errors lists per-file failures
// that did not stop the rest of the source from loading.
type LoadResult struct {
	Source    string   `json:"source"`
	Artifacts int      `json:"artifacts"`
	Entries   int      `json:"entries"`
	Unchanged int      `json:"unchanged"`
	Errors    []string `json:"errors,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ProgressLine is a single line of NDJSON streamed from the load endpoint.
type ProgressLine struct {
	Type    string      `json:"type"` // "progress" or "result"
	Message string      `json:"message,omitempty"`
	Result  *LoadResult `json:"result,omitempty"`
}

type Implementor struct {
	Text      string   `json:"text" yaml:"text"`
	Header    string   `json:"header" yaml:"header"`
	TypeName  string   `json:"type_name,omitempty" yaml:"type_name,omitempty"`
	Synthetic bool     `json:"synthetic" yaml:"synthetic"`
	Types     []string `json:"types" yaml:"types"`
}

type LibraryImplementors struct {
	Library      string        `json:"library" yaml:"library"`
	Implementors []Implementor `json:"implementors" yaml:"implementors"`
}

// ImplementorsRequest is the request body for POST /implementors. With
// Source set, only what that root or crate@version contributed is returned.
type ImplementorsRequest struct {
	Trait   string `json:"trait"`
	Library string `json:"library,omitempty"`
	Source  string `json:"source,omitempty"`
}

// ImplementorsResponse is the response body for POST /implementors.
type ImplementorsResponse struct {
	Trait     string                `json:"trait"`
	Libraries []LibraryImplementors `json:"libraries"`
	Markdown  string                `json:"markdown"`
}

// TraitsForTypeRequest is the request body for POST /traits-for-type. An
// empty Type with Library set lists everything the library implements.
type TraitsForTypeRequest struct {
	Type    string `json:"type,omitempty"`
	Library string `json:"library,omitempty"`
	Source  string `json:"source,omitempty"`
}

// TraitsForTypeResponse is the response body for POST /traits-for-type.
type TraitsForTypeResponse struct {
	Results []TraitImpl `json:"results"`
}

type TraitImpl struct {
	Trait     string `json:"trait"`
	Library   string `json:"library"`
	Header    string `json:"header"`
	Synthetic bool   `json:"synthetic"`
}

// SidebarRequest is the request body for POST /sidebar.
type SidebarRequest struct {
	Module string `json:"module"`
	Source string `json:"source,omitempty"`
}

// SidebarResponse is the response body for POST /sidebar.
type SidebarResponse struct {
	Module   string           `json:"module"`
	Sections []SidebarSection `json:"sections"`
	Markdown string           `json:"markdown"`
}

type SidebarSection struct {
	Category string        `json:"category" yaml:"category"`
	Title    string        `json:"title" yaml:"title"`
	Items    []SidebarItem `json:"items" yaml:"items"`
}

type SidebarItem struct {
	Name    string `json:"name" yaml:"name"`
	Summary string `json:"summary" yaml:"summary"`
}

// SearchRequest is the request body for POST /search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResponse is the response body for POST /search.
type SearchResponse struct {
	Results []SymbolResult `json:"results"`
}

type SymbolResult struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Trait   string `json:"trait,omitempty"`
	Library string `json:"library,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	URI     string `json:"uri"`
	Score   int    `json:"score"`
}

// Export formats.
const (
	FormatJS       = "js"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
)

// ExportRequest is the request body for POST /export. Kind is "implementors"
// or "sidebar"; when empty the subject is looked up as a trait first.
type ExportRequest struct {
	Subject string `json:"subject"`
	Kind    string `json:"kind,omitempty"`
	Format  string `json:"format,omitempty"`
}

// ExportResponse is the response body for POST /export.
type ExportResponse struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// ForgetRequest is the request body for POST /forget.
type ForgetRequest struct {
	Source string `json:"source"`
}

// ForgetResponse reports how many stored artifacts were removed and how many
// tables the rebuilt registry holds.
type ForgetResponse struct {
	Removed  int `json:"removed"`
	Restored int `json:"restored"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Traits       int      `json:"traits"`
	Modules      int      `json:"modules"`
	Implementors int      `json:"implementors"`
	SidebarItems int      `json:"sidebar_items"`
	Pending      int      `json:"pending"`
	Stored       int      `json:"stored_artifacts"`
	Driver       string   `json:"driver"`
	Libraries    []string `json:"libraries"`
	Watching     []string `json:"watching,omitempty"`
}
