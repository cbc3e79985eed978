package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

//go:embed instructions.md
var instructions string

const (
	implementorsURIPrefix = "rsidx://implementors/"
	sidebarURIPrefix      = "rsidx://sidebar/"
)

// Backend is the subset of the daemon client the MCP server calls.
type Backend interface {
	Load(ctx context.Context, req rpc.LoadRequest, onProgress func(string)) (*rpc.LoadResponse, error)
	Implementors(ctx context.Context, req rpc.ImplementorsRequest) (*rpc.ImplementorsResponse, error)
	TraitsForType(ctx context.Context, req rpc.TraitsForTypeRequest) (*rpc.TraitsForTypeResponse, error)
	Sidebar(ctx context.Context, req rpc.SidebarRequest) (*rpc.SidebarResponse, error)
	Search(ctx context.Context, req rpc.SearchRequest) (*rpc.SearchResponse, error)
}

type Server struct {
	mcpServer *server.MCPServer
	backend   Backend
}

func NewServer(backend Backend) *Server {
	s := &Server{backend: backend}

	mcpServer := server.NewMCPServer(
		"ferrisindex",
		"0.1.0",
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("load_docs",
			mcp.WithDescription("Load rustdoc implementor and sidebar indexes from local doc directories (e.g. target/doc) or fetch them from docs.rs. Synchronous: returns when complete."),
			mcp.WithArray("roots",
				mcp.Description("Local rustdoc output directories to scan"),
				mcp.Items(map[string]interface{}{"type": "string"}),
			),
			fetchesSchema,
		),
		s.handleLoadDocs,
	)

	mcpServer.AddTool(
		mcp.NewTool("list_implementors",
			mcp.WithDescription("List every known implementation of a trait, grouped by library. Returns Markdown."),
			mcp.WithString("trait",
				mcp.Description("Fully qualified trait path, e.g. core::fmt::Display"),
				mcp.Required(),
			),
			mcp.WithString("library",
				mcp.Description("Only show implementations from this library"),
			),
		),
		s.handleListImplementors,
	)

	mcpServer.AddTool(
		mcp.NewTool("get_sidebar",
			mcp.WithDescription("List the public items of a module by category (structs, functions, traits, ...). Returns Markdown."),
			mcp.WithString("module",
				mcp.Description("Module path, e.g. libffi::low"),
				mcp.Required(),
			),
		),
		s.handleGetSidebar,
	)

	mcpServer.AddTool(
		mcp.NewTool("search_symbols",
			mcp.WithDescription("Fuzzy search over loaded module items and implementing types. Returns rsidx:// URIs that can be read as resources."),
			mcp.WithString("query",
				mcp.Description("Symbol name or fragment"),
				mcp.Required(),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results (default 20)"),
			),
		),
		s.handleSearchSymbols,
	)

	mcpServer.AddTool(
		mcp.NewTool("traits_for_type",
			mcp.WithDescription("List the traits a type implements, across every loaded trait."),
			mcp.WithString("type",
				mcp.Description("Bare type name, e.g. SendError"),
				mcp.Required(),
			),
			mcp.WithString("library",
				mcp.Description("Only consider implementations from this library"),
			),
		),
		s.handleTraitsForType,
	)
}

func fetchesSchema(t *mcp.Tool) {
	t.InputSchema.Properties["fetches"] = map[string]any{
		"type":        "array",
		"description": "Index files to download from docs.rs",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"crate": map[string]any{
					"type":        "string",
					"description": "Crate name (e.g., \"mpi\")",
				},
				"version": map[string]any{
					"type":        "string",
					"description": "Version (default: \"latest\")",
				},
				"paths": map[string]any{
					"type":        "array",
					"description": "Artifact paths, e.g. implementors/core/fmt/trait.Display.js or mpi/request/sidebar-items.js",
					"items":       map[string]any{"type": "string"},
				},
			},
			"required": []string{"crate", "paths"},
		},
	}
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			implementorsURIPrefix+"{trait}",
			"Trait implementors",
			mcp.WithTemplateDescription("Every known implementation of a trait, grouped by library."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			sidebarURIPrefix+"{module}",
			"Module items",
			mcp.WithTemplateDescription("The public items of a module by category."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
}

func (s *Server) handleLoadDocs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	var loadReq rpc.LoadRequest
	if raw, ok := args["roots"]; ok {
		if err := remarshal(raw, &loadReq.Roots); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid roots parameter: %v", err)), nil
		}
	}
	if raw, ok := args["fetches"]; ok {
		if err := remarshal(raw, &loadReq.Fetches); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid fetches format: %v", err)), nil
		}
	}
	if len(loadReq.Roots) == 0 && len(loadReq.Fetches) == 0 {
		return mcp.NewToolResultError("nothing to load: pass roots or fetches"), nil
	}

	resp, err := s.backend.Load(ctx, loadReq, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load docs: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(resp.Results, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleListImplementors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	trait := req.GetString("trait", "")
	if trait == "" {
		return mcp.NewToolResultError("missing required parameter: trait"), nil
	}
	resp, err := s.backend.Implementors(ctx, rpc.ImplementorsRequest{
		Trait:   trait,
		Library: req.GetString("library", ""),
		Source:  req.GetString("source", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}
	return mcp.NewToolResultText(resp.Markdown), nil
}

func (s *Server) handleGetSidebar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	module := req.GetString("module", "")
	if module == "" {
		return mcp.NewToolResultError("missing required parameter: module"), nil
	}
	resp, err := s.backend.Sidebar(ctx, rpc.SidebarRequest{Module: module})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}
	return mcp.NewToolResultText(resp.Markdown), nil
}

func (s *Server) handleSearchSymbols(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	resp, err := s.backend.Search(ctx, rpc.SearchRequest{Query: query, Limit: req.GetInt("limit", 0)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(resp.Results, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleTraitsForType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName := req.GetString("type", "")
	if typeName == "" {
		return mcp.NewToolResultError("missing required parameter: type"), nil
	}
	resp, err := s.backend.TraitsForType(ctx, rpc.TraitsForTypeRequest{Type: typeName, Library: req.GetString("library", "")})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}
	if len(resp.Results) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no loaded trait lists an implementation for %s", typeName)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Traits implemented by `%s`\n\n", typeName)
	for _, ti := range resp.Results {
		fmt.Fprintf(&b, "- `%s` (%s): `%s`", ti.Trait, ti.Library, strings.ReplaceAll(ti.Header, "\n", " "))
		if ti.Synthetic {
			b.WriteString(" (auto)")
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI

	var markdown string
	switch {
	case strings.HasPrefix(uri, implementorsURIPrefix):
		trait := strings.TrimPrefix(uri, implementorsURIPrefix)
		resp, err := s.backend.Implementors(ctx, rpc.ImplementorsRequest{Trait: trait})
		if err != nil {
			return nil, fmt.Errorf("getting implementors: %w", err)
		}
		markdown = resp.Markdown
	case strings.HasPrefix(uri, sidebarURIPrefix):
		module := strings.TrimPrefix(uri, sidebarURIPrefix)
		resp, err := s.backend.Sidebar(ctx, rpc.SidebarRequest{Module: module})
		if err != nil {
			return nil, fmt.Errorf("getting sidebar: %w", err)
		}
		markdown = resp.Markdown
	default:
		return nil, fmt.Errorf("invalid resource URI: %s", uri)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     markdown,
		},
	}, nil
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) Shutdown(_ context.Context) error {
	return nil
}
