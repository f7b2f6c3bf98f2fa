package dat

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Parser reads Logiqx style DAT files. Both MAME (<machine>) and
// FinalBurn Neo (<game>) layouts are accepted, as is the -listxml <mame>
// root.
type Parser struct{}

// NewParser builds a fresh DAT parser.
func NewParser() Parser {
	return Parser{}
}

// ParseFile opens and parses a DAT file.
func (p Parser) ParseFile(path string) (*DataFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dat %s: %w", path, err)
	}
	defer f.Close()
	df, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return df, nil
}

// Parse consumes DAT XML content from the provided reader.
func (p Parser) Parse(r io.Reader) (*DataFile, error) {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false // DTD is referenced; relax strict parsing.

	var df DataFile
	if err := decoder.Decode(&df); err != nil {
		return nil, fmt.Errorf("decode dat: %w", err)
	}
	return &df, nil
}

// DataFile is the root node of a DAT file.
type DataFile struct {
	Header   Header  `xml:"header"`
	Machines []Entry `xml:"machine"`
	Games    []Entry `xml:"game"`
}

// Header carries top-level metadata for the DAT.
type Header struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Version     string `xml:"version"`
}

// Entry is one ROM set.
type Entry struct {
	Name         string `xml:"name,attr"`
	CloneOf      string `xml:"cloneof,attr,omitempty"`
	IsBios       string `xml:"isbios,attr,omitempty"`
	IsDevice     string `xml:"isdevice,attr,omitempty"`
	Runnable     string `xml:"runnable,attr,omitempty"`
	Description  string `xml:"description"`
	Year         string `xml:"year"`
	Manufacturer string `xml:"manufacturer"`
}

// Playable reports whether the set is a game rather than a bios or device.
func (e Entry) Playable() bool {
	return !strings.EqualFold(e.IsBios, "yes") &&
		!strings.EqualFold(e.IsDevice, "yes") &&
		!strings.EqualFold(e.Runnable, "no")
}

// Entries returns machines followed by games.
func (df *DataFile) Entries() []Entry {
	if df == nil {
		return nil
	}
	out := make([]Entry, 0, len(df.Machines)+len(df.Games))
	out = append(out, df.Machines...)
	out = append(out, df.Games...)
	return out
}

// FindEntry returns the first set with the given short name.
func (df *DataFile) FindEntry(name string) *Entry {
	if df == nil {
		return nil
	}
	for i := range df.Machines {
		if df.Machines[i].Name == name {
			return &df.Machines[i]
		}
	}
	for i := range df.Games {
		if df.Games[i].Name == name {
			return &df.Games[i]
		}
	}
	return nil
}

// Aliases maps arcade short set names (sf2, mslug) to their descriptive
// titles. Keys are case-insensitive.
type Aliases struct {
	titles map[string]string
}

// NewAliases returns an empty alias table.
func NewAliases() *Aliases {
	return &Aliases{titles: make(map[string]string)}
}

// Add indexes the playable sets of df and returns how many were added.
// A name already present keeps its first title.
func (a *Aliases) Add(df *DataFile) int {
	added := 0
	for _, e := range df.Entries() {
		key := strings.ToLower(strings.TrimSpace(e.Name))
		title := strings.TrimSpace(e.Description)
		if key == "" || title == "" || !e.Playable() {
			continue
		}
		if _, ok := a.titles[key]; ok {
			continue
		}
		a.titles[key] = title
		added++
	}
	return added
}

// Lookup returns the title for a file stem.
func (a *Aliases) Lookup(stem string) (string, bool) {
	if a == nil {
		return "", false
	}
	title, ok := a.titles[strings.ToLower(strings.TrimSpace(stem))]
	return title, ok
}

// Len returns the number of indexed sets.
func (a *Aliases) Len() int {
	if a == nil {
		return 0
	}
	return len(a.titles)
}

// LoadAliases parses every DAT file in paths into one alias table. Earlier
// files win on conflicting names.
func LoadAliases(paths ...string) (*Aliases, error) {
	parser := NewParser()
	aliases := NewAliases()
	for _, p := range paths {
		df, err := parser.ParseFile(filepath.Clean(p))
		if err != nil {
			return nil, err
		}
		aliases.Add(df)
	}
	return aliases, nil
}
