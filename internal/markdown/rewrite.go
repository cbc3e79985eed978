package markdown

import (
	"path"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	gmparser "github.com/gomarkdown/markdown/parser"
)

func parse(src string) ast.Node {
	return gm.Parse([]byte(src), gmparser.NewWithExtensions(
		gmparser.CommonExtensions|gmparser.Autolink,
	))
}

// RewriteLinks rewrites markdown link destinations using the provided link map.
// It parses the markdown to AST to find all link destinations, then performs
// targeted string replacements to preserve original formatting.
func RewriteLinks(src string, linkMap map[string]string) string {
	if len(linkMap) == 0 {
		return src
	}

	seen := make(map[string]bool)
	var oldDests []string
	ast.WalkFunc(parse(src), func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		if link, ok := node.(*ast.Link); ok {
			dest := string(link.Destination)
			if _, ok := linkMap[dest]; ok && !seen[dest] {
				seen[dest] = true
				oldDests = append(oldDests, dest)
			}
		}
		return ast.GoToNext
	})

	result := src
	for _, dest := range oldDests {
		result = strings.ReplaceAll(result, "]("+dest+")", "]("+linkMap[dest]+")")
	}

	// Reference-style definitions: [ref]: destination
	lines := strings.Split(result, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, dest := range oldDests {
			if strings.HasSuffix(trimmed, "]: "+dest) {
				lines[i] = strings.Replace(line, "]: "+dest, "]: "+linkMap[dest], 1)
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

// SidebarLinks maps rustdoc-relative destinations found in a summary of module
// to rsidx URIs. Links to a child module ("foo/index.html") point at that
// module's sidebar; links to an item page ("struct.Foo.html") point at the
// sidebar of the module that owns it. Absolute and fragment-only links are
// left alone.
func SidebarLinks(module, summary string) map[string]string {
	links := make(map[string]string)
	ast.WalkFunc(parse(summary), func(node ast.Node, entering bool) ast.WalkStatus {
		link, ok := node.(*ast.Link)
		if !entering || !ok {
			return ast.GoToNext
		}
		dest := string(link.Destination)
		if uri, ok := sidebarURI(module, dest); ok {
			links[dest] = uri
		}
		return ast.GoToNext
	})
	return links
}

func sidebarURI(module, dest string) (string, bool) {
	if dest == "" || strings.HasPrefix(dest, "#") || strings.Contains(dest, "://") || strings.HasPrefix(dest, "/") {
		return "", false
	}
	if i := strings.IndexByte(dest, '#'); i >= 0 {
		dest = dest[:i]
	}
	if !strings.HasSuffix(dest, ".html") {
		return "", false
	}

	dir := strings.ReplaceAll(module, "::", "/")
	target := path.Clean(path.Join(dir, dest))
	if strings.HasPrefix(target, "../") || target == ".." {
		return "", false
	}
	// Both "child/index.html" and "struct.Foo.html" resolve to their directory.
	target = path.Dir(target)
	if target == "." || target == "" {
		return "", false
	}
	return "rsidx://sidebar/" + strings.ReplaceAll(target, "/", "::"), true
}
