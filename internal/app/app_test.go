package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xxxsen/romscraper/internal/config"
	"github.com/xxxsen/romscraper/internal/engine"
	"github.com/xxxsen/romscraper/internal/exclusion"
	"github.com/xxxsen/romscraper/internal/gamelist"
	"github.com/xxxsen/romscraper/internal/launchbox"
	"github.com/xxxsen/romscraper/internal/platform"
)

const testMetadata = `<?xml version="1.0" standalone="yes"?>
<LaunchBox>
  <Game>
    <Name>Super Mario World</Name>
    <ReleaseDate>1990-11-21T00:00:00-08:00</ReleaseDate>
    <Overview>Mario returns.</Overview>
    <MaxPlayers>2</MaxPlayers>
    <DatabaseID>1001</DatabaseID>
    <CommunityRating>4.0</CommunityRating>
    <Platform>Super Nintendo Entertainment System</Platform>
    <Genres>Platform</Genres>
  </Game>
  <GameImage>
    <DatabaseID>1001</DatabaseID>
    <FileName>1001-logo.png</FileName>
    <Type>Clear Logo</Type>
  </GameImage>
</LaunchBox>
`

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunnerList(t *testing.T) {
	want := []string{"fetch-metadata", "match", "normalize-gamelist", "scrape", "verify"}
	got := RunnerList()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected runners %v", got)
	}
	for _, name := range got {
		r := MustResolveRunner(name)
		if r.Name() != name {
			t.Fatalf("runner %s reports name %s", name, r.Name())
		}
	}
	if _, err := ResolveRunner("missing"); err == nil {
		t.Fatalf("expected error for unknown runner")
	}
}

func TestConfigFromContextDefaults(t *testing.T) {
	cfg := ConfigFromContext(context.Background())
	if cfg.Metadata.URL != config.DefaultMetadataURL {
		t.Fatalf("expected default config, got %+v", cfg.Metadata)
	}
	custom := config.Default()
	custom.Metadata.Path = "/x/Metadata.xml"
	if got := ConfigFromContext(WithConfig(context.Background(), custom)); got != custom {
		t.Fatalf("expected attached config")
	}
}

func TestScrapeCommand(t *testing.T) {
	dir := t.TempDir()
	metadata := filepath.Join(dir, "Metadata.xml")
	writeTestFile(t, metadata, testMetadata)
	writeTestFile(t, filepath.Join(dir, "roms", "snes", "Super Mario World (USA).sfc"), "rom")
	writeTestFile(t, filepath.Join(dir, "roms", "snes", "Unknown Homebrew.sfc"), "rom")

	cfg := config.Default()
	cfg.Metadata.Path = metadata
	cfg.Metadata.URL = ""
	ctx := WithConfig(context.Background(), cfg)

	cmd := NewScrapeCommand()
	cmd.dir = filepath.Join(dir, "roms")
	cmd.noArtwork = true
	if err := cmd.PreRun(ctx); err != nil {
		t.Fatalf("prerun: %v", err)
	}
	if err := cmd.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	doc, err := gamelist.ParseFile(filepath.Join(dir, "roms", "snes", gamelist.DefaultFileName))
	if err != nil {
		t.Fatalf("parse written gamelist: %v", err)
	}
	games := doc.Games()
	if len(games) != 1 || games[0].Name != "Super Mario World" || games[0].Rating != "0.80" {
		t.Fatalf("unexpected games %+v", games)
	}
	ledger, err := exclusion.Load(filepath.Join(dir, "roms", "snes", exclusion.DefaultFileName))
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if !ledger.Contains("Unknown Homebrew.sfc") || ledger.Len() != 1 {
		t.Fatalf("unexpected ledger content")
	}
}

func TestScrapeCommandRequiresDir(t *testing.T) {
	cmd := NewScrapeCommand()
	if err := cmd.PreRun(context.Background()); err == nil {
		t.Fatalf("expected error without --dir")
	}
	cmd.dir = filepath.Join(t.TempDir(), "missing")
	if err := cmd.PreRun(context.Background()); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestScrapeCommandNothingFound(t *testing.T) {
	dir := t.TempDir()
	metadata := filepath.Join(dir, "Metadata.xml")
	writeTestFile(t, metadata, testMetadata)
	writeTestFile(t, filepath.Join(dir, "roms", "amiga", "Lemmings.adf"), "rom")

	cfg := config.Default()
	cfg.Metadata.Path = metadata
	cmd := NewScrapeCommand()
	cmd.dir = filepath.Join(dir, "roms")
	cmd.noArtwork = true
	ctx := WithConfig(context.Background(), cfg)
	if err := cmd.PreRun(ctx); err != nil {
		t.Fatalf("prerun: %v", err)
	}
	if err := cmd.Run(ctx); err != nil {
		t.Fatalf("nothing found must not fail the run: %v", err)
	}
}

func TestMatchCommandOutput(t *testing.T) {
	dir := t.TempDir()
	metadata := filepath.Join(dir, "Metadata.xml")
	writeTestFile(t, metadata, testMetadata)
	cfg := config.Default()
	cfg.Metadata.Path = metadata

	var out bytes.Buffer
	cmd := NewMatchCommand()
	cmd.out = &out
	cmd.platform = "snes"
	cmd.name = "Super Mario World (USA) [!].sfc"
	ctx := WithConfig(context.Background(), cfg)
	if err := cmd.PreRun(ctx); err != nil {
		t.Fatalf("prerun: %v", err)
	}
	if err := cmd.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	var res MatchResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if !res.Matched || !res.Exact || res.Record == nil {
		t.Fatalf("expected exact match, got %+v", res)
	}
	if res.Record.Path != "./Super Mario World (USA) [!].sfc" || res.Record.Players != "1-2" {
		t.Fatalf("unexpected record %+v", res.Record)
	}
}

func TestMatchByLabelAndMiss(t *testing.T) {
	db, err := launchbox.NewParser().Parse(strings.NewReader(testMetadata))
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	resolver := platform.NewResolver(nil, nil)

	eng := engine.New(db, resolver)

	res := match(eng, resolver, "Super Nintendo Entertainment System", "Super Mario Wrld.sfc")
	if !res.Matched || res.Exact {
		t.Fatalf("expected fuzzy match, got %+v", res)
	}

	res = match(eng, resolver, "snes", "Zzzz.sfc")
	if res.Matched || res.Record != nil || res.Candidate != "zzzz" {
		t.Fatalf("expected miss, got %+v", res)
	}
}

func TestParseMirror(t *testing.T) {
	bucket, prefix, err := parseMirror("s3://art/launchbox/images")
	if err != nil || bucket != "art" || prefix != "launchbox/images" {
		t.Fatalf("unexpected %s %s %v", bucket, prefix, err)
	}
	bucket, prefix, err = parseMirror("s3://art")
	if err != nil || bucket != "art" || prefix != "" {
		t.Fatalf("unexpected %s %s %v", bucket, prefix, err)
	}
	if _, _, err := parseMirror("https://art"); err == nil {
		t.Fatalf("expected error for non s3 mirror")
	}
}

const messyGamelist = `<?xml version="1.0" encoding="UTF-8"?>
<gameList>

    <game>
        <path>./a.sfc</path>
        <name>A</name>
    </game>
</gameList>`

func TestNormalizeTree(t *testing.T) {
	dir := t.TempDir()
	messy := filepath.Join(dir, "snes", gamelist.DefaultFileName)
	broken := filepath.Join(dir, "nes", gamelist.DefaultFileName)
	writeTestFile(t, messy, messyGamelist)
	writeTestFile(t, broken, "<gameList>")

	stats, err := normalizeTree(context.Background(), dir, false, true)
	if err != nil {
		t.Fatalf("dryrun: %v", err)
	}
	if stats.Found != 2 || stats.Invalid != 1 || stats.Written != 0 {
		t.Fatalf("unexpected dryrun stats %+v", stats)
	}
	if _, err := os.Stat(messy + ".fix"); !os.IsNotExist(err) {
		t.Fatalf("dryrun must not write files")
	}

	stats, err = normalizeTree(context.Background(), dir, true, false)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if stats.Written != 1 {
		t.Fatalf("unexpected replace stats %+v", stats)
	}
	want := "<?xml version=\"1.0\"?>\n<gameList>\n\t<game>\n\t\t<path>./a.sfc</path>\n\t\t<name>A</name>\n\t</game>\n</gameList>\n"
	data, err := os.ReadFile(messy)
	if err != nil {
		t.Fatalf("read normalized: %v", err)
	}
	if string(data) != want {
		t.Fatalf("unexpected normalized output %q", string(data))
	}
	if got, _ := os.ReadFile(broken); string(got) != "<gameList>" {
		t.Fatalf("invalid gamelist must be left alone")
	}

	stats, err = normalizeTree(context.Background(), dir, true, false)
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if stats.Unchanged != 1 || stats.Written != 0 {
		t.Fatalf("expected unchanged on second pass, got %+v", stats)
	}
}

func TestNewEngineLoadsArcadeDats(t *testing.T) {
	db := launchbox.NewDatabase()
	db.AddGame(launchbox.Game{DatabaseID: "9", Name: "Pac-Man", Platform: engine.ArcadeLabel})
	datPath := filepath.Join(t.TempDir(), "mame.xml")
	content := `<mame><machine name="pacman"><description>Pac-Man (Midway)</description></machine></mame>`
	if err := os.WriteFile(datPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write dat: %v", err)
	}
	resolver := platform.NewResolver(nil, nil)

	cfg := config.Default()
	cfg.ArcadeDats = []string{datPath}
	eng, err := newEngine(context.Background(), cfg, db, resolver)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res := match(eng, resolver, "arcade", "pacman.zip")
	if !res.Matched || res.Record == nil || res.Record.Name != "Pac-Man" {
		t.Fatalf("expected alias match, got %+v", res)
	}

	cfg.ArcadeDats = []string{filepath.Join(t.TempDir(), "missing.dat")}
	if _, err := newEngine(context.Background(), cfg, db, resolver); err == nil {
		t.Fatalf("expected error for missing dat")
	}
}

func TestVerifyTree(t *testing.T) {
	root := t.TempDir()
	snes := filepath.Join(root, "snes")
	if err := os.MkdirAll(filepath.Join(snes, "images"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, f := range []string{"ok.sfc", "images/ok-image.png"} {
		if err := os.WriteFile(filepath.Join(snes, filepath.FromSlash(f)), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
	doc := gamelist.New()
	doc.AppendGame(gamelist.Game{Path: "./ok.sfc", Name: "OK", Image: "./images/ok-image.png"})
	doc.AppendGame(gamelist.Game{Path: "./gone.sfc", Name: "Gone", Marquee: "./images/gone-marquee.png"})
	if err := doc.WriteFile(filepath.Join(snes, gamelist.DefaultFileName)); err != nil {
		t.Fatalf("write gamelist: %v", err)
	}

	broken := filepath.Join(root, "gba")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(broken, gamelist.DefaultFileName), []byte("<gameList>"), 0o644); err != nil {
		t.Fatalf("write broken gamelist: %v", err)
	}

	output, err := verifyTree(context.Background(), root)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if output.Catalogs != 2 || output.Entries != 2 {
		t.Fatalf("unexpected totals %+v", output)
	}
	if len(output.CaseList) != 2 {
		t.Fatalf("expected 2 locations, got %+v", output.CaseList)
	}
	// WalkDir visits gba before snes.
	if output.CaseList[0].Error == "" {
		t.Fatalf("expected parse error for gba, got %+v", output.CaseList[0])
	}
	snesLoc := output.CaseList[1]
	if len(snesLoc.List) != 1 || snesLoc.List[0].Rom != "./gone.sfc" {
		t.Fatalf("unexpected snes cases %+v", snesLoc.List)
	}
	want := []string{"rom missing", "media missing:./images/gone-marquee.png"}
	if strings.Join(snesLoc.List[0].Reason, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected reasons %v", snesLoc.List[0].Reason)
	}
}

func TestNewEngineUsesMatchThreshold(t *testing.T) {
	db, err := launchbox.NewParser().Parse(strings.NewReader(testMetadata))
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	resolver := platform.NewResolver(nil, nil)

	cfg := config.Default()
	cfg.MatchThreshold = 0.99
	eng, err := newEngine(context.Background(), cfg, db, resolver)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if res := match(eng, resolver, "snes", "Super Mario Wrld.sfc"); res.Matched {
		t.Fatalf("fuzzy match should be rejected by a strict threshold, got %+v", res)
	}
	if res := match(eng, resolver, "snes", "Super Mario World (USA).sfc"); !res.Matched || !res.Exact {
		t.Fatalf("exact match should ignore the threshold, got %+v", res)
	}
}
