package launchbox

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Game is a <Game> record of the LaunchBox metadata dump.
type Game struct {
	DatabaseID      string `xml:"DatabaseID"`
	Name            string `xml:"Name"`
	Platform        string `xml:"Platform"`
	Overview        string `xml:"Overview"`
	CommunityRating string `xml:"CommunityRating"`
	ReleaseDate     string `xml:"ReleaseDate"`
	Developer       string `xml:"Developer"`
	Publisher       string `xml:"Publisher"`
	Genres          string `xml:"Genres"`
	MinPlayers      string `xml:"MinPlayers"`
	MaxPlayers      string `xml:"MaxPlayers"`
}

// GameImage is a <GameImage> record: one artwork asset of a game.
type GameImage struct {
	DatabaseID string `xml:"DatabaseID"`
	Type       string `xml:"Type"`
	FileName   string `xml:"FileName"`
}

// Database indexes games by platform and images by database id, keeping the
// document order inside each bucket.
type Database struct {
	games      map[string][]Game
	images     map[string][]GameImage
	gameCount  int
	imageCount int
}

// Parser reads LaunchBox Metadata.xml documents.
type Parser struct{}

// NewParser builds a fresh metadata parser.
func NewParser() Parser {
	return Parser{}
}

// ParseFile opens and parses a Metadata.xml file.
func (p Parser) ParseFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open launchbox metadata %s: %w", path, err)
	}
	defer f.Close()
	return p.Parse(f)
}

// Parse streams the document and only materialises Game and GameImage
// elements; the dump is several hundred megabytes.
func (p Parser) Parse(r io.Reader) (*Database, error) {
	decoder := xml.NewDecoder(r)
	db := NewDatabase()

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode launchbox metadata: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "Game":
			var g Game
			if err := decoder.DecodeElement(&g, &se); err != nil {
				return nil, fmt.Errorf("decode game element: %w", err)
			}
			db.AddGame(g)
		case "GameImage":
			var img GameImage
			if err := decoder.DecodeElement(&img, &se); err != nil {
				return nil, fmt.Errorf("decode game image element: %w", err)
			}
			db.AddImage(img)
		}
	}
	return db, nil
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{
		games:  make(map[string][]Game),
		images: make(map[string][]GameImage),
	}
}

// AddGame appends a game to its platform bucket.
func (db *Database) AddGame(g Game) {
	g.DatabaseID = strings.TrimSpace(g.DatabaseID)
	g.Platform = strings.TrimSpace(g.Platform)
	db.games[g.Platform] = append(db.games[g.Platform], g)
	db.gameCount++
}

// AddImage appends an image to its game bucket.
func (db *Database) AddImage(img GameImage) {
	img.DatabaseID = strings.TrimSpace(img.DatabaseID)
	img.Type = strings.TrimSpace(img.Type)
	img.FileName = strings.TrimSpace(img.FileName)
	db.images[img.DatabaseID] = append(db.images[img.DatabaseID], img)
	db.imageCount++
}

// Games returns the games of a platform label in document order.
func (db *Database) Games(platform string) []Game {
	if db == nil {
		return nil
	}
	return db.games[platform]
}

// Images returns the images attached to a database id in document order.
func (db *Database) Images(databaseID string) []GameImage {
	if db == nil || databaseID == "" {
		return nil
	}
	return db.images[databaseID]
}

// Platforms lists the platform labels present in the dump, sorted.
func (db *Database) Platforms() []string {
	out := make([]string, 0, len(db.games))
	for k := range db.games {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// GameCount is the number of Game records read.
func (db *Database) GameCount() int { return db.gameCount }

// ImageCount is the number of GameImage records read.
func (db *Database) ImageCount() int { return db.imageCount }
