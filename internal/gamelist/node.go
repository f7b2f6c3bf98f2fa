package gamelist

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// NodeKind distinguishes elements from comments, processing instructions
// and directives inside the tree.
type NodeKind int

const (
	KindElement NodeKind = iota
	KindComment
	KindProcInst
	KindDirective
)

// Node is one element (or comment, processing instruction, directive) of a
// gamelist document. The tree keeps every element, attribute and comment it
// was parsed from so that fields added by hand or by other scrapers survive
// a rewrite. Names keep their namespace prefix as written, e.g. xml:lang.
// For a processing instruction Name is the target and Text the content.
type Node struct {
	Kind     NodeKind
	Name     string
	Attrs    []xml.Attr
	Text     string
	Children []*Node
}

// NewElement builds an element node with text content.
func NewElement(name, text string) *Node {
	return &Node{Kind: KindElement, Name: name, Text: text}
}

// Child returns the first child element called name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Kind == KindElement && c.Name == name {
			return c
		}
	}
	return nil
}

// ChildText returns the trimmed text of the first child called name.
func (n *Node) ChildText(name string) string {
	if c := n.Child(name); c != nil {
		return strings.TrimSpace(c.Text)
	}
	return ""
}

// Attr returns the value of an attribute.
func (n *Node) Attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Elements returns the child elements called name, in order.
func (n *Node) Elements(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Kind == KindElement && c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// tree is a decoded document: the root element plus the comments,
// processing instructions and directives around it.
type tree struct {
	prolog []*Node
	root   *Node
	epilog []*Node
}

func decodeTree(r io.Reader) (*tree, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charsetReader
	var (
		doc   tree
		stack []*Node
		texts []*strings.Builder
	)

	// misc places a non-element node inside the current element, or before
	// or after the root.
	misc := func(n *Node) {
		switch {
		case len(stack) > 0:
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, n)
		case doc.root == nil:
			doc.prolog = append(doc.prolog, n)
		default:
			doc.epilog = append(doc.epilog, n)
		}
	}

	for {
		// RawToken keeps namespace prefixes as written; element nesting is
		// checked below.
		tok, err := decoder.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if doc.root != nil && len(stack) == 0 {
				return nil, fmt.Errorf("multiple root elements")
			}
			node := &Node{Kind: KindElement, Name: qualifiedName(t.Name)}
			for _, a := range t.Attr {
				node.Attrs = append(node.Attrs, xml.Attr{Name: xml.Name{Space: a.Name.Space, Local: a.Name.Local}, Value: a.Value})
			}
			if len(stack) == 0 {
				doc.root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
			texts = append(texts, &strings.Builder{})
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected end element </%s>", qualifiedName(t.Name))
			}
			node := stack[len(stack)-1]
			if name := qualifiedName(t.Name); name != node.Name {
				return nil, fmt.Errorf("element <%s> closed by </%s>", node.Name, name)
			}
			text := texts[len(texts)-1].String()
			if len(node.Children) > 0 || strings.TrimSpace(text) == "" {
				text = strings.TrimSpace(text)
			}
			node.Text = text
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]
		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}
		case xml.Comment:
			misc(&Node{Kind: KindComment, Text: string(t)})
		case xml.ProcInst:
			// the declaration is rewritten by the encoder
			if t.Target == "xml" {
				continue
			}
			misc(&Node{Kind: KindProcInst, Name: t.Target, Text: strings.TrimSpace(string(t.Inst))})
		case xml.Directive:
			misc(&Node{Kind: KindDirective, Text: string(t)})
		}
	}
	if doc.root == nil {
		return nil, fmt.Errorf("no root element")
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("unexpected EOF: element <%s> not closed", stack[len(stack)-1].Name)
	}
	return &doc, nil
}

// charsetReader decodes catalogs declaring a non UTF-8 encoding, such as
// ISO-8859-1 or windows-1252, into UTF-8.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

func qualifiedName(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

const indentUnit = "\t"

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;", "\n", "&#xA;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "\r", "&#xD;", "\n", "&#xA;", "\t", "&#x9;")
)

func encodeTree(w *bufio.Writer, n *Node, depth int) {
	indent := strings.Repeat(indentUnit, depth)
	switch n.Kind {
	case KindComment:
		w.WriteString(indent)
		w.WriteString("<!--")
		w.WriteString(n.Text)
		w.WriteString("-->\n")
		return
	case KindProcInst:
		w.WriteString(indent)
		w.WriteString("<?")
		w.WriteString(n.Name)
		if n.Text != "" {
			w.WriteByte(' ')
			w.WriteString(n.Text)
		}
		w.WriteString("?>\n")
		return
	case KindDirective:
		w.WriteString(indent)
		w.WriteString("<!")
		w.WriteString(n.Text)
		w.WriteString(">\n")
		return
	}

	w.WriteString(indent)
	w.WriteByte('<')
	w.WriteString(n.Name)
	for _, a := range n.Attrs {
		w.WriteByte(' ')
		w.WriteString(qualifiedName(a.Name))
		w.WriteString(`="`)
		w.WriteString(attrEscaper.Replace(a.Value))
		w.WriteByte('"')
	}

	if len(n.Children) == 0 {
		if n.Text == "" {
			w.WriteString("/>\n")
			return
		}
		w.WriteByte('>')
		w.WriteString(textEscaper.Replace(n.Text))
		w.WriteString("</")
		w.WriteString(n.Name)
		w.WriteString(">\n")
		return
	}

	w.WriteString(">\n")
	if n.Text != "" {
		w.WriteString(indent + indentUnit)
		w.WriteString(textEscaper.Replace(n.Text))
		w.WriteByte('\n')
	}
	for _, c := range n.Children {
		encodeTree(w, c, depth+1)
	}
	w.WriteString(indent)
	w.WriteString("</")
	w.WriteString(n.Name)
	w.WriteString(">\n")
}
