package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/jcdickinson/ferrisindex/internal/docs"
	"gopkg.in/yaml.v3"
)

// FrontMatter is the metadata block prepended to rendered views.
type FrontMatter struct {
	URI       string   `yaml:"uri"`
	Trait     string   `yaml:"trait,omitempty"`
	Module    string   `yaml:"module,omitempty"`
	Libraries []string `yaml:"libraries,omitempty"`
	Entries   int      `yaml:"entries"`
}

// AddFrontMatter prepends a YAML front-matter block.
func AddFrontMatter(src string, fm FrontMatter) string {
	var b bytes.Buffer
	b.WriteString("---\n")
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return src
	}
	enc.Close()
	b.WriteString("---\n\n")
	b.WriteString(src)
	return b.String()
}

// RenderImplementors renders a trait's implementor table as Markdown, one
// section per library in table order.
func RenderImplementors(f *docs.ImplementorFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Implementors of `%s`\n", f.Trait)

	var libs []string
	for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
		libs = append(libs, pair.Key)
		fmt.Fprintf(&b, "\n## %s\n\n", pair.Key)
		if len(pair.Value) == 0 {
			b.WriteString("_none_\n")
			continue
		}
		for _, im := range pair.Value {
			fmt.Fprintf(&b, "- `%s`", strings.ReplaceAll(im.Header(), "\n", " "))
			if im.Synthetic {
				b.WriteString(" (auto)")
			}
			b.WriteByte('\n')
		}
	}

	return AddFrontMatter(b.String(), FrontMatter{
		URI:       "rsidx://implementors/" + f.Trait,
		Trait:     f.Trait,
		Libraries: libs,
		Entries:   f.Len(),
	})
}

// RenderSidebar renders a module's sidebar as Markdown, one section per
// category in table order. Relative links in summaries become rsidx URIs.
func RenderSidebar(f *docs.SidebarFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Module `%s`\n", f.Module)

	for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(&b, "\n## %s\n\n", pair.Key.Title())
		for _, it := range pair.Value {
			fmt.Fprintf(&b, "- `%s`", it.Name)
			if summary := strings.TrimSpace(it.Summary); summary != "" {
				b.WriteString(": ")
				b.WriteString(RewriteLinks(summary, SidebarLinks(f.Module, summary)))
			}
			b.WriteByte('\n')
		}
	}

	return AddFrontMatter(b.String(), FrontMatter{
		URI:     "rsidx://sidebar/" + f.Module,
		Module:  f.Module,
		Entries: f.Len(),
	})
}

// PlainText strips inline Markdown from a summary, keeping the text of code
// spans, emphasis and links.
func PlainText(src string) string {
	var b strings.Builder
	ast.WalkFunc(parse(src), func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			if _, ok := node.(*ast.Paragraph); ok {
				b.WriteByte(' ')
			}
			return ast.GoToNext
		}
		switch n := node.(type) {
		case *ast.Text:
			b.Write(n.Literal)
		case *ast.Code:
			b.Write(n.Literal)
		case *ast.Softbreak, *ast.Hardbreak:
			b.WriteByte(' ')
		}
		return ast.GoToNext
	})
	return strings.Join(strings.Fields(b.String()), " ")
}
