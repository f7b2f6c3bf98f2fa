package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/romscraper/internal/platform"
)

// ErrNothingFound is returned by Classify when no platform folder with game
// files exists under the root. The accompanying Result still carries skips.
var ErrNothingFound = errors.New("no platform folders or game files found")

// GameFile is a candidate ROM on disk.
type GameFile struct {
	Path string
	Name string
	Stem string
	Ext  string
}

func newGameFile(path string) GameFile {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	return GameFile{
		Path: path,
		Name: name,
		Stem: strings.TrimSuffix(name, ext),
		Ext:  ext,
	}
}

// Collection groups the game files of one platform folder.
type Collection struct {
	Dir      string
	Key      string
	Platform string
	Files    []GameFile
}

// Skip records a folder that was not turned into a collection.
type Skip struct {
	Dir    string
	Reason string
}

const (
	ReasonUnknownPlatform = "no platform mapping found"
	ReasonNoGameFiles     = "no game files found"
	ReasonUnreadable      = "folder unreadable"
)

// readDir lists a platform folder. Tests replace it to simulate I/O errors.
var readDir = os.ReadDir

// Result is the outcome of a directory classification.
type Result struct {
	Single      bool
	Collections []Collection
	Skipped     []Skip
}

// TotalFiles counts game files across all collections.
func (r *Result) TotalFiles() int {
	total := 0
	for _, c := range r.Collections {
		total += len(c.Files)
	}
	return total
}

// Classify resolves root into platform collections. When the root folder
// itself maps to a platform it is treated as a single collection, otherwise
// its immediate subdirectories are inspected.
func Classify(root string, resolver *platform.Resolver) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat scan root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root %s is not a directory", root)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root %s: %w", root, err)
	}

	res := &Result{}
	key := strings.ToLower(filepath.Base(abs))
	if label, ok := resolver.Resolve(key); ok {
		res.Single = true
		if err := res.addCollection(root, key, label, resolver); err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read scan root %s: %w", root, err)
		}
		for _, entry := range entries {
			dir := filepath.Join(root, entry.Name())
			if !isDir(dir, entry) {
				continue
			}
			sub := strings.ToLower(entry.Name())
			label, ok := resolver.Resolve(sub)
			if !ok {
				res.Skipped = append(res.Skipped, Skip{Dir: dir, Reason: ReasonUnknownPlatform})
				continue
			}
			// unreadable folders are skipped, siblings still run
			if err := res.addCollection(dir, sub, label, resolver); err != nil {
				res.Skipped = append(res.Skipped, Skip{Dir: dir, Reason: ReasonUnreadable + ": " + err.Error()})
			}
		}
	}

	if len(res.Collections) == 0 {
		return res, ErrNothingFound
	}
	return res, nil
}

func (r *Result) addCollection(dir, key, label string, resolver *platform.Resolver) error {
	files, err := listGameFiles(dir, resolver)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		r.Skipped = append(r.Skipped, Skip{Dir: dir, Reason: ReasonNoGameFiles})
		return nil
	}
	r.Collections = append(r.Collections, Collection{
		Dir:      dir,
		Key:      key,
		Platform: label,
		Files:    files,
	})
	return nil
}

func listGameFiles(dir string, resolver *platform.Resolver) ([]GameFile, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read platform dir %s: %w", dir, err)
	}
	var files []GameFile
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if !isRegular(path, entry) {
			continue
		}
		if !resolver.IsGameFile(filepath.Ext(entry.Name())) {
			continue
		}
		files = append(files, newGameFile(path))
	}
	return files, nil
}

func isDir(path string, entry fs.DirEntry) bool {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.IsDir()
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isRegular(path string, entry fs.DirEntry) bool {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.Type().IsRegular()
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
