package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/romscraper/internal/artwork"
	"github.com/xxxsen/romscraper/internal/exclusion"
	"github.com/xxxsen/romscraper/internal/gamelist"
	"github.com/xxxsen/romscraper/internal/launchbox"
	"github.com/xxxsen/romscraper/internal/platform"
	"github.com/xxxsen/romscraper/internal/scanner"
)

const snesLabel = "Super Nintendo Entertainment System"

func testDatabase() *launchbox.Database {
	db := launchbox.NewDatabase()
	db.AddGame(launchbox.Game{
		DatabaseID:      "1001",
		Name:            "Super Mario World",
		Platform:        snesLabel,
		Overview:        "Mario returns.",
		CommunityRating: "4.0",
		ReleaseDate:     "1990-11-21T00:00:00-08:00",
		Developer:       "Nintendo EAD",
		Publisher:       "Nintendo",
		Genres:          "Platform",
		MaxPlayers:      "2",
	})
	db.AddGame(launchbox.Game{DatabaseID: "1002", Name: "Chrono Trigger", Platform: snesLabel})
	db.AddGame(launchbox.Game{DatabaseID: "1003", Name: "F-Zero", Platform: snesLabel, CommunityRating: "oops"})
	db.AddGame(launchbox.Game{DatabaseID: "2001", Name: "Tetris", Platform: "Nintendo Game Boy"})
	db.AddImage(launchbox.GameImage{DatabaseID: "1001", Type: "Screenshot - Gameplay", FileName: "1001-play.png"})
	db.AddImage(launchbox.GameImage{DatabaseID: "1001", Type: "Clear Logo", FileName: "1001-logo.png"})
	return db
}

func newTestEngine() *Engine {
	return New(testDatabase(), platform.NewResolver(nil, nil))
}

func makePlatform(t *testing.T, root, folder string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("rom"), 0o644))
	}
	return dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunScenarioAndIdempotence(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "snes", "Super Mario World (USA).sfc", "Unknown Homebrew.sfc", "readme.txt")
	e := newTestEngine()

	report, err := e.Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	assert.False(t, report.Single)
	assert.Equal(t, 2, report.TotalFiles)
	require.Len(t, report.Platforms, 1)
	first := report.Platforms[0]
	assert.Equal(t, StateFresh, first.Load)
	assert.Equal(t, OutcomeWritten, first.Outcome)
	assert.Equal(t, 1, first.Added)
	assert.Equal(t, 1, first.Exact)
	assert.Equal(t, 1, first.Unmatched)
	assert.Empty(t, first.Backup)
	assert.Empty(t, first.Errors)

	catalog := filepath.Join(dir, gamelist.DefaultFileName)
	doc, err := gamelist.ParseFile(catalog)
	require.NoError(t, err)
	games := doc.Games()
	require.Len(t, games, 1)
	assert.Equal(t, "./Super Mario World (USA).sfc", games[0].Path)
	assert.Equal(t, "Super Mario World", games[0].Name)
	assert.Equal(t, "0.80", games[0].Rating)
	assert.Equal(t, "19901121T000000", games[0].ReleaseDate)
	assert.Equal(t, "1-2", games[0].Players)
	assert.Equal(t, "1001", games[0].ID)

	ledgerPath := filepath.Join(dir, exclusion.DefaultFileName)
	assert.Equal(t, "Unknown Homebrew.sfc\n", readFile(t, ledgerPath))
	firstBytes := readFile(t, catalog)
	assert.True(t, strings.HasPrefix(firstBytes, "<?xml version=\"1.0\"?>\n<gameList>\n"))

	report, err = e.Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	second := report.Platforms[0]
	assert.Equal(t, StateExisting, second.Load)
	assert.Equal(t, OutcomeUnchanged, second.Outcome)
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, 1, second.Excluded)
	assert.Equal(t, 0, second.Unmatched)

	assert.Equal(t, firstBytes, readFile(t, catalog))
	assert.Equal(t, "Unknown Homebrew.sfc\n", readFile(t, ledgerPath))
	_, err = os.Stat(catalog + gamelist.BackupSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestRunSinglePlatformRoot(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "SNES", "Chrono Trigger (USA).sfc")

	report, err := newTestEngine().Run(context.Background(), dir, RunOptions{})
	require.NoError(t, err)
	assert.True(t, report.Single)
	require.Len(t, report.Platforms, 1)
	assert.Equal(t, snesLabel, report.Platforms[0].Platform)
	assert.Equal(t, 1, report.Added())
}

func TestRunKeepsExistingEntriesAndBacksUpOnce(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "snes", "Chrono Trigger (USA).sfc", "F-Zero (USA).sfc", "Super Mario World (USA).sfc")
	catalog := filepath.Join(dir, gamelist.DefaultFileName)
	original := `<?xml version="1.0" encoding="UTF-8"?>
<gameList>
  <game>
    <path>./My Hack.sfc</path>
    <name>My Hack</name>
    <favorite>true</favorite>
  </game>
</gameList>
`
	require.NoError(t, os.WriteFile(catalog, []byte(original), 0o640))
	old := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(catalog, old, old))

	report, err := newTestEngine().Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	res := report.Platforms[0]
	assert.Equal(t, StateExisting, res.Load)
	assert.Equal(t, OutcomeWritten, res.Outcome)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, catalog+gamelist.BackupSuffix, res.Backup)

	backup, err := os.Stat(res.Backup)
	require.NoError(t, err)
	assert.Equal(t, original, readFile(t, res.Backup))
	assert.True(t, backup.ModTime().Equal(old))
	assert.Equal(t, os.FileMode(0o640), backup.Mode().Perm())

	info, err := os.Stat(catalog)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	doc, err := gamelist.ParseFile(catalog)
	require.NoError(t, err)
	games := doc.Games()
	require.Len(t, games, 4)
	assert.Equal(t, "./My Hack.sfc", games[0].Path)
	assert.Contains(t, readFile(t, catalog), "<favorite>true</favorite>")
	assert.Equal(t, "0.00", games[2].Rating, "unparseable rating")

	seen := map[string]bool{}
	for _, g := range games {
		assert.False(t, seen[g.Path], "duplicate path %s", g.Path)
		seen[g.Path] = true
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	backups := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), gamelist.BackupSuffix) {
			backups++
		}
	}
	assert.Equal(t, 1, backups)
}

func TestRunRecoversMalformedCatalog(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "snes", "Chrono Trigger (USA).sfc")
	catalog := filepath.Join(dir, gamelist.DefaultFileName)
	require.NoError(t, os.WriteFile(catalog, []byte("<gameList><game>"), 0o644))

	report, err := newTestEngine().Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	res := report.Platforms[0]
	assert.Equal(t, StateRecovered, res.Load)
	assert.Len(t, res.Warnings, 1)
	assert.Empty(t, res.Errors)
	assert.Equal(t, OutcomeWritten, res.Outcome)

	assert.Equal(t, "<gameList><game>", readFile(t, catalog+gamelist.BackupSuffix))
	doc, err := gamelist.ParseFile(catalog)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Len())
}

func TestRunKeepsLatin1Catalog(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "snes", "Super Mario World (USA).sfc")
	catalog := filepath.Join(dir, gamelist.DefaultFileName)
	content := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<gameList>\n" +
		"<game><path>./Hand Added.sfc</path><name>Caf\xe9 Racer</name><favorite>true</favorite></game>\n</gameList>\n"
	require.NoError(t, os.WriteFile(catalog, []byte(content), 0o644))

	report, err := newTestEngine().Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	res := report.Platforms[0]
	assert.Equal(t, StateExisting, res.Load)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, OutcomeWritten, res.Outcome)

	doc, err := gamelist.ParseFile(catalog)
	require.NoError(t, err)
	games := doc.Games()
	require.Len(t, games, 2)
	assert.Equal(t, "./Hand Added.sfc", games[0].Path)
	assert.Equal(t, "Café Racer", games[0].Name)
	assert.Equal(t, "./Super Mario World (USA).sfc", games[1].Path)
	assert.Contains(t, readFile(t, catalog), "<favorite>true</favorite>")
}

func TestRunUnreadableLedgerIsWarning(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "snes", "Super Mario World (USA).sfc")
	// a directory in place of the ledger file fails on read
	require.NoError(t, os.Mkdir(filepath.Join(dir, exclusion.DefaultFileName), 0o755))

	report, err := newTestEngine().Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	res := report.Platforms[0]
	assert.Len(t, res.Warnings, 1)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, OutcomeWritten, res.Outcome)
	assert.Empty(t, report.Failed())
}

func TestRunRecoveredCatalogUntouchedWithoutMatches(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "snes", "Unknown Homebrew.sfc")
	catalog := filepath.Join(dir, gamelist.DefaultFileName)
	require.NoError(t, os.WriteFile(catalog, []byte("broken"), 0o644))

	report, err := newTestEngine().Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, report.Platforms[0].Outcome)
	assert.Equal(t, "broken", readFile(t, catalog))
}

func TestRunSkipsDuplicatePathWithoutRewrite(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "snes", "Super Mario World (USA).sfc")
	catalog := filepath.Join(dir, gamelist.DefaultFileName)
	content := "<gameList>\n  <game><path>./Super Mario World (USA).sfc</path><name>Mine</name></game>\n</gameList>\n"
	require.NoError(t, os.WriteFile(catalog, []byte(content), 0o644))

	report, err := newTestEngine().Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	res := report.Platforms[0]
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, content, readFile(t, catalog))
}

func TestRunNothingFound(t *testing.T) {
	root := t.TempDir()
	makePlatform(t, root, "amiga", "Lemmings.adf")

	report, err := newTestEngine().Run(context.Background(), root, RunOptions{})
	assert.ErrorIs(t, err, scanner.ErrNothingFound)
	require.NotNil(t, report)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, scanner.ReasonUnknownPlatform, report.Skipped[0].Reason)
}

func TestRunPlatformBusy(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "snes", "Chrono Trigger (USA).sfc")
	held := flock.New(filepath.Join(dir, LockFileName))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	report, err := newTestEngine().Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	res := report.Platforms[0]
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err(), ErrPlatformBusy)
	_, err = os.Stat(filepath.Join(dir, gamelist.DefaultFileName))
	assert.True(t, os.IsNotExist(err))
}

type cancelAfterFirst struct {
	nopProgress
	cancel context.CancelFunc
	once   sync.Once
}

func (p *cancelAfterFirst) FileProcessed(scanner.Collection, scanner.GameFile, int, int) {
	p.once.Do(p.cancel)
}

func TestRunCancelledMidPlatformWritesNothing(t *testing.T) {
	root := t.TempDir()
	gb := makePlatform(t, root, "gb", "Tetris (World).gb", "Tetris DX (World).gb")
	snes := makePlatform(t, root, "snes", "Chrono Trigger (USA).sfc")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	report, err := newTestEngine().Run(ctx, root, RunOptions{Progress: &cancelAfterFirst{cancel: cancel}})
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	require.Len(t, report.Platforms, 1)
	assert.Equal(t, "gb", report.Platforms[0].Key)
	assert.Equal(t, OutcomeCancelled, report.Platforms[0].Outcome)
	assert.Equal(t, 1, report.Platforms[0].Added)

	for _, folder := range []string{gb, snes} {
		_, err := os.Stat(filepath.Join(folder, gamelist.DefaultFileName))
		assert.True(t, os.IsNotExist(err), folder)
	}
}

type recordingSink struct {
	reqs []artwork.Request
}

func (s *recordingSink) Submit(_ context.Context, req artwork.Request) error {
	s.reqs = append(s.reqs, req)
	return nil
}

func TestRunSubmitsArtwork(t *testing.T) {
	root := t.TempDir()
	dir := makePlatform(t, root, "snes", "Super Mario World (USA).sfc", "Chrono Trigger (USA).sfc")
	sink := &recordingSink{}

	report, err := newTestEngine().Run(context.Background(), root, RunOptions{Artwork: sink})
	require.NoError(t, err)
	res := report.Platforms[0]
	assert.Equal(t, 2, res.ArtworkRequested)
	assert.Equal(t, 4, res.ArtworkMissing)

	assert.Equal(t, []artwork.Request{
		{AssetID: "1001-play.png", Dest: filepath.Join(dir, "images", "Super Mario World (USA)-image.png"), Role: artwork.RoleImage},
		{AssetID: "1001-logo.png", Dest: filepath.Join(dir, "images", "Super Mario World (USA)-marquee.png"), Role: artwork.RoleMarquee},
	}, sink.reqs)
}

func TestRunThresholdIsExclusive(t *testing.T) {
	strictRoot := t.TempDir()
	makePlatform(t, strictRoot, "snes", "Super Mario Wrld.sfc")
	strict := New(testDatabase(), platform.NewResolver(nil, nil), WithScorer(func(a, b string) float64 { return 0.70 }))
	report, err := strict.Run(context.Background(), strictRoot, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Platforms[0].Added)
	assert.Equal(t, 1, report.Platforms[0].Unmatched)

	looseRoot := t.TempDir()
	dir := makePlatform(t, looseRoot, "snes", "Super Mario Wrld.sfc")
	loose := New(testDatabase(), platform.NewResolver(nil, nil), WithScorer(func(a, b string) float64 { return 0.71 }))
	report, err = loose.Run(context.Background(), looseRoot, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Platforms[0].Fuzzy)

	doc, err := gamelist.ParseFile(filepath.Join(dir, gamelist.DefaultFileName))
	require.NoError(t, err)
	assert.Equal(t, "Super Mario World", doc.Games()[0].Name, "ties keep the earlier record")
}

type mapAliases map[string]string

func (m mapAliases) Lookup(stem string) (string, bool) {
	title, ok := m[stem]
	return title, ok
}

func TestRunArcadeAliases(t *testing.T) {
	db := testDatabase()
	db.AddGame(launchbox.Game{DatabaseID: "3001", Name: "Metal Slug - Super Vehicle-001", Platform: ArcadeLabel})
	db.AddGame(launchbox.Game{DatabaseID: "3002", Name: "Pac-Man", Platform: ArcadeLabel})
	aliases := mapAliases{
		"mslug":  "Metal Slug - Super Vehicle-001",
		"pacman": "Pac-Man (Midway)",
		"ghost":  "Ghost Title",
	}

	root := t.TempDir()
	dir := makePlatform(t, root, "arcade", "mslug.zip", "Pac-Man.zip", "ghost.zip")
	e := New(db, platform.NewResolver(nil, nil), WithArcadeAliases(aliases))
	report, err := e.Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	require.Len(t, report.Platforms, 1)
	res := report.Platforms[0]
	assert.Equal(t, ArcadeLabel, res.Platform)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Unmatched)

	doc, err := gamelist.ParseFile(filepath.Join(dir, gamelist.DefaultFileName))
	require.NoError(t, err)
	names := map[string]string{}
	for _, g := range doc.Games() {
		names[g.Path] = g.Name
	}
	assert.Equal(t, "Metal Slug - Super Vehicle-001", names["./mslug.zip"])
	assert.Equal(t, "Pac-Man", names["./Pac-Man.zip"])

	// aliases only apply to arcade folders
	snesRoot := t.TempDir()
	makePlatform(t, snesRoot, "snes", "mslug.sfc")
	report, err = e.Run(context.Background(), snesRoot, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Platforms[0].Added)
}
