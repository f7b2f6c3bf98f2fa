package gamelist

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultFileName is the catalog file name inside a platform folder.
	DefaultFileName = "gamelist.xml"
	// BackupSuffix is appended to the catalog path for the pre-write copy.
	BackupSuffix = ".bak"

	rootElement = "gameList"
	gameElement = "game"
	header      = `<?xml version="1.0"?>` + "\n"
)

// Game is the typed view of a <game> entry.
type Game struct {
	ID          string `json:"id,omitempty"`
	Source      string `json:"source,omitempty"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"desc"`
	Image       string `json:"image"`
	Marquee     string `json:"marquee"`
	Thumbnail   string `json:"thumbnail"`
	Video       string `json:"video,omitempty"`
	Rating      string `json:"rating"`
	ReleaseDate string `json:"releasedate"`
	Developer   string `json:"developer"`
	Publisher   string `json:"publisher"`
	Genre       string `json:"genre"`
	Players     string `json:"players"`
}

// Document is a gamelist.xml file held as a lossless element tree. Prolog
// and Epilog hold the comments, processing instructions and directives found
// before and after the root element.
type Document struct {
	Prolog []*Node
	Root   *Node
	Epilog []*Node
}

// New returns an empty <gameList> document.
func New() *Document {
	return &Document{Root: &Node{Kind: KindElement, Name: rootElement}}
}

// Parse reads a gamelist document. Any syntax error, or a root element other
// than <gameList>, is reported as an error.
func Parse(r io.Reader) (*Document, error) {
	t, err := decodeTree(r)
	if err != nil {
		return nil, fmt.Errorf("decode gamelist: %w", err)
	}
	if t.root.Name != rootElement {
		return nil, fmt.Errorf("decode gamelist: unexpected root element <%s>", t.root.Name)
	}
	return &Document{Prolog: t.prolog, Root: t.root, Epilog: t.epilog}, nil
}

// ParseFile opens and parses the gamelist at path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gamelist %s: %w", path, err)
	}
	defer f.Close()
	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Encode writes the document as UTF-8: a bare xml declaration, tab
// indentation, one element per line and no blank lines. Equal trees encode
// to equal bytes.
func (d *Document) Encode(w io.Writer) error {
	if d == nil || d.Root == nil {
		return errors.New("gamelist document is nil")
	}
	bw := bufio.NewWriter(w)
	bw.WriteString(header)
	for _, n := range d.Prolog {
		encodeTree(bw, n, 0)
	}
	encodeTree(bw, d.Root, 0)
	for _, n := range d.Epilog {
		encodeTree(bw, n, 0)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("encode gamelist: %w", err)
	}
	return nil
}

// Bytes returns the encoded document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile replaces path with the encoded document. The content goes to a
// temporary sibling first and is renamed over path, so readers never observe
// a partially written catalog.
func (d *Document) WriteFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("invalid gamelist output path")
	}
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure gamelist dir %s: %w", dir, err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp gamelist in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write gamelist %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync gamelist %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close gamelist %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod gamelist %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace gamelist %s: %w", path, err)
	}
	return nil
}

// Paths returns the set of <path> values of every game entry.
func (d *Document) Paths() map[string]struct{} {
	out := make(map[string]struct{})
	for _, g := range d.Root.Elements(gameElement) {
		if p := g.ChildText("path"); p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}

// Len returns the number of game entries.
func (d *Document) Len() int {
	return len(d.Root.Elements(gameElement))
}

// Games returns the typed view of every game entry, in document order.
func (d *Document) Games() []Game {
	nodes := d.Root.Elements(gameElement)
	out := make([]Game, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, gameFromNode(n))
	}
	return out
}

// AppendGame adds a new <game> element at the end of the document.
func (d *Document) AppendGame(g Game) {
	d.Root.Children = append(d.Root.Children, g.node())
}

func gameFromNode(n *Node) Game {
	return Game{
		ID:          strings.TrimSpace(n.Attr("id")),
		Source:      strings.TrimSpace(n.Attr("source")),
		Path:        n.ChildText("path"),
		Name:        n.ChildText("name"),
		Description: n.ChildText("desc"),
		Image:       n.ChildText("image"),
		Marquee:     n.ChildText("marquee"),
		Thumbnail:   n.ChildText("thumbnail"),
		Video:       n.ChildText("video"),
		Rating:      n.ChildText("rating"),
		ReleaseDate: n.ChildText("releasedate"),
		Developer:   n.ChildText("developer"),
		Publisher:   n.ChildText("publisher"),
		Genre:       n.ChildText("genre"),
		Players:     n.ChildText("players"),
	}
}

// node renders the entry in the field order EmulationStation scrapers use.
// Every field is written, empty ones as self-closing elements; video is only
// written when set.
func (g Game) node() *Node {
	n := &Node{Kind: KindElement, Name: gameElement}
	if id := strings.TrimSpace(g.ID); id != "" {
		n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: id})
	}
	if src := strings.TrimSpace(g.Source); src != "" {
		n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: "source"}, Value: src})
	}
	fields := []struct{ name, value string }{
		{"path", g.Path},
		{"name", g.Name},
		{"desc", g.Description},
		{"image", g.Image},
		{"marquee", g.Marquee},
		{"thumbnail", g.Thumbnail},
		{"video", g.Video},
		{"rating", g.Rating},
		{"releasedate", g.ReleaseDate},
		{"developer", g.Developer},
		{"publisher", g.Publisher},
		{"genre", g.Genre},
		{"players", g.Players},
	}
	for _, f := range fields {
		if f.name == "video" && f.value == "" {
			continue
		}
		n.Children = append(n.Children, NewElement(f.name, strings.TrimSpace(f.value)))
	}
	return n
}
