package processor

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

var inlineElements = map[atom.Atom]bool{
	atom.A: true, atom.Abbr: true, atom.B: true, atom.Bdi: true, atom.Bdo: true,
	atom.Cite: true, atom.Code: true, atom.Data: true, atom.Dfn: true, atom.Em: true,
	atom.I: true, atom.Kbd: true, atom.Label: true, atom.Mark: true, atom.Q: true,
	atom.S: true, atom.Samp: true, atom.Small: true, atom.Span: true, atom.Strong: true,
	atom.Sub: true, atom.Sup: true, atom.Time: true, atom.U: true, atom.Var: true,
	atom.Br: true, atom.Img: true,
}

// markdownWriter converts a DOM subtree into markdown blocks separated by a
// blank line. Loose text between block elements is collected into paragraphs.
type markdownWriter struct {
	blocks []string
	inline strings.Builder
}

func toMarkdown(root *html.Node) string {
	w := &markdownWriter{}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		w.node(c)
	}
	w.flush()
	return strings.Join(w.blocks, "\n\n")
}

func (w *markdownWriter) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.inline.WriteString(n.Data)
		return
	case html.ElementNode:
	default:
		return
	}

	if level, ok := headingLevels[n.DataAtom]; ok {
		if text := inlineText(n); text != "" {
			w.block(strings.Repeat("#", level) + " " + text)
		}
		return
	}

	switch n.DataAtom {
	case atom.P:
		w.block(inlineText(n))
	case atom.Pre:
		w.block(fence(n))
	case atom.Ul, atom.Ol:
		w.block(listText(n))
	case atom.Blockquote:
		if text := inlineText(n); text != "" {
			w.block("> " + text)
		}
	case atom.Br:
		w.inline.WriteString(" ")
	default:
		if inlineElements[n.DataAtom] {
			writeInlineNode(&w.inline, n)
			return
		}
		w.flush()
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.node(c)
		}
		w.flush()
	}
}

func (w *markdownWriter) block(text string) {
	w.flush()
	if strings.TrimSpace(text) != "" {
		w.blocks = append(w.blocks, text)
	}
}

func (w *markdownWriter) flush() {
	text := collapse(w.inline.String())
	w.inline.Reset()
	if text != "" {
		w.blocks = append(w.blocks, text)
	}
}

// inlineText renders n's descendants as one line, keeping inline code and
// links.
func inlineText(n *html.Node) string {
	var b strings.Builder
	writeInline(&b, n)
	return collapse(b.String())
}

func writeInline(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeInlineNode(b, c)
	}
}

func writeInlineNode(b *strings.Builder, c *html.Node) {
	switch {
	case c.Type == html.TextNode:
		b.WriteString(c.Data)
	case c.Type != html.ElementNode:
	case c.DataAtom == atom.Code:
		if code := strings.TrimSpace(rawText(c)); code != "" {
			b.WriteString("`" + code + "`")
		}
	case c.DataAtom == atom.A:
		b.WriteString(anchor(c))
	case c.DataAtom == atom.Br:
		b.WriteString(" ")
	case inlineElements[c.DataAtom]:
		writeInline(b, c)
	default:
		b.WriteString(" ")
		writeInline(b, c)
		b.WriteString(" ")
	}
}

func anchor(n *html.Node) string {
	text := inlineText(n)
	if text == "" {
		return ""
	}
	href := strings.TrimSpace(attr(n, "href"))
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return text
	}
	return "[" + text + "](" + strings.ReplaceAll(href, " ", "%20") + ")"
}

func fence(pre *html.Node) string {
	code := strings.TrimRight(rawText(pre), "\n")
	if strings.TrimSpace(code) == "" {
		return ""
	}
	lang := ""
	if c := pre.FirstChild; c != nil && c.Type == html.ElementNode && c.DataAtom == atom.Code {
		for _, class := range strings.Fields(attr(c, "class")) {
			if strings.HasPrefix(class, "language-") {
				lang = strings.TrimPrefix(class, "language-")
				break
			}
		}
	}
	return "```" + lang + "\n" + code + "\n```"
}

func listText(list *html.Node) string {
	ordered := list.DataAtom == atom.Ol
	var items []string
	index := 0
	for c := list.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Li {
			continue
		}
		index++
		text := inlineText(c)
		if text == "" {
			continue
		}
		if ordered {
			items = append(items, strconv.Itoa(index)+". "+text)
		} else {
			items = append(items, "- "+text)
		}
	}
	return strings.Join(items, "\n")
}

// rawText concatenates every text node under n without normalizing spaces.
func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// plainText extracts visible words, separating block elements by spaces.
func plainText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if !inlineElements[n.DataAtom] || n.DataAtom == atom.Br {
				b.WriteString(" ")
				defer b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return collapse(b.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
