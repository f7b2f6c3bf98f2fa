package platform

import (
	"sort"
	"strings"
)

// defaultMapping maps a ROM folder name to the LaunchBox platform label.
var defaultMapping = map[string]string{
	"dreamcast":    "Sega Dreamcast",
	"snes":         "Super Nintendo Entertainment System",
	"nes":          "Nintendo Entertainment System",
	"gb":           "Nintendo Game Boy",
	"gbc":          "Nintendo Game Boy Color",
	"psx":          "Sony Playstation",
	"psp":          "Sony PSP",
	"n64":          "Nintendo 64",
	"nds":          "Nintendo DS",
	"gba":          "Game Boy Advance",
	"ps2":          "PlayStation 2",
	"gc":           "Nintendo GameCube",
	"arcade":       "Arcade",
	"naomi":        "Arcade",
	"cps1":         "Arcade",
	"cps2":         "Arcade",
	"cps3":         "Arcade",
	"megadrive":    "Sega Genesis",
	"genesis":      "Sega Genesis",
	"saturn":       "Sega Saturn",
	"mastersystem": "Sega Master System",
}

var defaultExtensions = []string{
	".zip", ".sfc", ".smc", ".sgd", ".smd", ".sms", ".nes", ".gb",
	".gbc", ".iso", ".cue", ".chd", ".gba", ".n64", ".nds", ".rvz",
}

// Resolver maps folder names to canonical platform labels and decides which
// file extensions count as games.
type Resolver struct {
	mapping    map[string]string
	extensions map[string]struct{}
}

// NewResolver builds a resolver from the built-in tables. Entries in extra
// override or extend the folder mapping, extraExt extends the extension set.
func NewResolver(extra map[string]string, extraExt []string) *Resolver {
	r := &Resolver{
		mapping:    make(map[string]string, len(defaultMapping)+len(extra)),
		extensions: make(map[string]struct{}, len(defaultExtensions)+len(extraExt)),
	}
	for k, v := range defaultMapping {
		r.mapping[k] = v
	}
	for k, v := range extra {
		key := normalizeKey(k)
		label := strings.TrimSpace(v)
		if key == "" || label == "" {
			continue
		}
		r.mapping[key] = label
	}
	for _, ext := range defaultExtensions {
		r.extensions[ext] = struct{}{}
	}
	for _, ext := range extraExt {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.extensions[ext] = struct{}{}
	}
	return r
}

// Resolve returns the platform label for a folder name.
func (r *Resolver) Resolve(folder string) (string, bool) {
	label, ok := r.mapping[normalizeKey(folder)]
	return label, ok
}

// IsGameFile reports whether the extension (with leading dot) is recognized.
func (r *Resolver) IsGameFile(ext string) bool {
	_, ok := r.extensions[strings.ToLower(ext)]
	return ok
}

// Keys lists the known folder names, sorted.
func (r *Resolver) Keys() []string {
	keys := make([]string, 0, len(r.mapping))
	for k := range r.mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKey(folder string) string {
	return strings.ToLower(strings.TrimSpace(folder))
}
