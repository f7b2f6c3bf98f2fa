package dat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fbneoDat = `<?xml version="1.0"?>
<!DOCTYPE datafile PUBLIC "-//FinalBurn Neo//DTD ROM Management Datafile//EN" "http://www.logiqx.com/Dats/datafile.dtd">
<datafile>
	<header>
		<name>FinalBurn Neo - Arcade Games</name>
		<description>FinalBurn Neo v1.0.0.03 Arcade Games</description>
		<version>1.0.0.03</version>
	</header>
	<game isbios="yes" name="neogeo">
		<description>Neo Geo</description>
	</game>
	<game name="mslug">
		<description>Metal Slug - Super Vehicle-001</description>
		<year>1996</year>
		<manufacturer>Nazca</manufacturer>
		<rom name="201-p1.p2" size="2097152" crc="08d8daa5"/>
	</game>
	<game name="sf2" cloneof="">
		<description>Street Fighter II - The World Warrior (World 910522)</description>
	</game>
</datafile>`

const mameDat = `<?xml version="1.0"?>
<mame build="0.261">
	<machine name="SF2" cloneof="sf2ua">
		<description>Street Fighter II (US)</description>
	</machine>
	<machine name="z80" isdevice="yes" runnable="no">
		<description>Zilog Z80</description>
	</machine>
	<machine name="pacman">
		<description>Pac-Man (Midway)</description>
		<year>1980</year>
	</machine>
	<machine name="blank">
		<description>  </description>
	</machine>
</mame>`

func TestParserParse(t *testing.T) {
	df, err := NewParser().Parse(strings.NewReader(fbneoDat))
	if err != nil {
		t.Fatalf("expected parser to succeed, got error: %v", err)
	}
	if df.Header.Name != "FinalBurn Neo - Arcade Games" {
		t.Fatalf("unexpected header name %q", df.Header.Name)
	}
	if len(df.Games) != 3 {
		t.Fatalf("expected 3 games, got %d", len(df.Games))
	}
	game := df.FindEntry("mslug")
	if game == nil {
		t.Fatalf("expected to find mslug")
	}
	if game.Year != "1996" || game.Manufacturer != "Nazca" {
		t.Fatalf("unexpected mslug entry: %+v", game)
	}
	if df.FindEntry("neogeo").Playable() {
		t.Fatalf("bios set should not be playable")
	}
}

func TestParserMameRoot(t *testing.T) {
	df, err := NewParser().Parse(strings.NewReader(mameDat))
	if err != nil {
		t.Fatalf("parse mame dat: %v", err)
	}
	if len(df.Machines) != 4 {
		t.Fatalf("expected 4 machines, got %d", len(df.Machines))
	}
	if got := len(df.Entries()); got != 4 {
		t.Fatalf("expected 4 entries, got %d", got)
	}
}

func TestParserInvalid(t *testing.T) {
	if _, err := NewParser().Parse(strings.NewReader("")); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestAliases(t *testing.T) {
	dir := t.TempDir()
	fbneo := filepath.Join(dir, "fbneo.dat")
	mame := filepath.Join(dir, "mame.xml")
	if err := os.WriteFile(fbneo, []byte(fbneoDat), 0o644); err != nil {
		t.Fatalf("write fbneo dat: %v", err)
	}
	if err := os.WriteFile(mame, []byte(mameDat), 0o644); err != nil {
		t.Fatalf("write mame dat: %v", err)
	}

	aliases, err := LoadAliases(fbneo, mame)
	if err != nil {
		t.Fatalf("load aliases: %v", err)
	}
	// mslug, sf2, pacman
	if aliases.Len() != 3 {
		t.Fatalf("expected 3 aliases, got %d", aliases.Len())
	}
	title, ok := aliases.Lookup("SF2")
	if !ok || title != "Street Fighter II - The World Warrior (World 910522)" {
		t.Fatalf("earlier dat should win, got %q %v", title, ok)
	}
	if _, ok := aliases.Lookup("neogeo"); ok {
		t.Fatalf("bios should not be aliased")
	}
	if _, ok := aliases.Lookup("z80"); ok {
		t.Fatalf("device should not be aliased")
	}
	if _, ok := aliases.Lookup("blank"); ok {
		t.Fatalf("blank description should not be aliased")
	}
	if title, ok := aliases.Lookup(" pacman "); !ok || title != "Pac-Man (Midway)" {
		t.Fatalf("unexpected pacman alias %q %v", title, ok)
	}

	var nilAliases *Aliases
	if _, ok := nilAliases.Lookup("sf2"); ok {
		t.Fatalf("nil aliases should miss")
	}
}

func TestLoadAliasesMissingFile(t *testing.T) {
	if _, err := LoadAliases(filepath.Join(t.TempDir(), "none.dat")); err == nil {
		t.Fatalf("expected error for missing dat")
	}
}
