package docs

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText renders the impl header without markup: entities are decoded,
// non-breaking spaces become spaces and <br> becomes a newline.
func (im Implementor) PlainText() string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(im.Text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.WriteString(strings.ReplaceAll(string(z.Text()), "\u00a0", " "))
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				b.WriteByte('\n')
			}
		}
	}
}

// Header returns the plain impl header without its where clause.
func (im Implementor) Header() string {
	plain := im.PlainText()
	if i := strings.Index(plain, " where"); i >= 0 {
		plain = plain[:i]
	}
	if i := strings.Index(plain, "\nwhere"); i >= 0 {
		plain = plain[:i]
	}
	return strings.TrimSpace(plain)
}

// TypeName extracts the bare name of the implementing type, e.g. ANSIString
// for "impl<'a> Display for ANSIString<'a>". Returns "" when the header has
// no "for" clause.
func (im Implementor) TypeName() string {
	header := im.Header()
	i := strings.LastIndex(header, " for ")
	if i < 0 {
		return ""
	}
	rest := strings.TrimSpace(header[i+len(" for "):])
	rest = strings.TrimLeft(rest, "&*")
	rest = strings.TrimPrefix(rest, "mut ")
	rest = strings.TrimPrefix(rest, "const ")
	rest = strings.TrimPrefix(rest, "dyn ")
	if strings.HasPrefix(rest, "'") {
		if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			rest = strings.TrimPrefix(rest[sp+1:], "mut ")
		}
	}
	if end := strings.IndexAny(rest, "<( "); end >= 0 {
		rest = rest[:end]
	}
	if j := strings.LastIndex(rest, "::"); j >= 0 {
		rest = rest[j+2:]
	}
	return rest
}
