package engine

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/xxxsen/romscraper/internal/artwork"
	"github.com/xxxsen/romscraper/internal/gamelist"
	"github.com/xxxsen/romscraper/internal/launchbox"
	"github.com/xxxsen/romscraper/internal/scanner"
)

// SourceName tags entries written by the scraper.
const SourceName = "LaunchBox"

var releaseDateRegexp = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)

// BuildRecord converts a matched metadata record into a catalog entry for
// file.
func BuildRecord(file scanner.GameFile, game launchbox.Game) gamelist.Game {
	return gamelist.Game{
		ID:          strings.TrimSpace(game.DatabaseID),
		Source:      SourceName,
		Path:        RelativePath(file),
		Name:        strings.TrimSpace(game.Name),
		Description: collapseSpace(game.Overview),
		Image:       artwork.RelativePath(file.Stem, artwork.RoleImage),
		Marquee:     artwork.RelativePath(file.Stem, artwork.RoleMarquee),
		Thumbnail:   artwork.RelativePath(file.Stem, artwork.RoleThumbnail),
		Rating:      FormatRating(game.CommunityRating),
		ReleaseDate: FormatReleaseDate(game.ReleaseDate),
		Developer:   strings.TrimSpace(game.Developer),
		Publisher:   strings.TrimSpace(game.Publisher),
		Genre:       strings.TrimSpace(game.Genres),
		Players:     FormatPlayers(game.MinPlayers, game.MaxPlayers),
	}
}

// RelativePath is the catalog path of a game file, e.g. ./Tetris (World).gb.
func RelativePath(file scanner.GameFile) string {
	return "./" + file.Name
}

// FormatRating maps a 0..5 community rating to the 0..1 catalog scale with
// two decimals. Missing or unparseable values yield "0.00".
func FormatRating(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "0.00"
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00"
	}
	v /= 5.0
	v = math.Max(0, math.Min(1, v))
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatReleaseDate turns the first YYYY-MM-DD found in raw into
// YYYYMMDDT000000, or "" when there is none.
func FormatReleaseDate(raw string) string {
	m := releaseDateRegexp.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1] + m[2] + m[3] + "T000000"
}

// FormatPlayers renders min-max. Without a maximum the entry is single player.
func FormatPlayers(minPlayers, maxPlayers string) string {
	maxPlayers = strings.TrimSpace(maxPlayers)
	if maxPlayers == "" {
		return "1-1"
	}
	minPlayers = strings.TrimSpace(minPlayers)
	if minPlayers == "" {
		minPlayers = "1"
	}
	return minPlayers + "-" + maxPlayers
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
