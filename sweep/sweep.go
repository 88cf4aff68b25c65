// Package sweep walks the Tabletop Simulator data directory and reports what
// is on disk: cached asset files and the save files of mods.
package sweep

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tts-cache/cachepath"
	"tts-cache/db"
)

const (
	workshopPrefix = "Workshop/"
	savesPrefix    = "Saves/"
)

// Index files the game keeps next to the saves. They are not mods.
var skipped = map[string]bool{
	"WorkshopFileInfos.json": true,
	"SaveFileInfos.json":     true,
}

// Root tells which tree a mod filename lives in.
type Root int

const (
	WorkshopRoot Root = iota
	SavesRoot
)

func (r Root) String() string {
	if r == SavesRoot {
		return "saves"
	}
	return "workshop"
}

// RootFor maps a mod filename to its tree by its prefix.
func RootFor(filename string) Root {
	if strings.HasPrefix(filepath.ToSlash(filename), savesPrefix) {
		return SavesRoot
	}
	return WorkshopRoot
}

// Dirs locates the trees of one data directory.
type Dirs struct {
	Mods  string // <data>/Mods, holds Workshop/ and the cache directories
	Saves string // <data>/Saves
}

// Path returns the absolute path of a mod filename.
func (d Dirs) Path(filename string) string {
	slashed := filepath.ToSlash(filename)
	if RootFor(slashed) == SavesRoot {
		return filepath.Join(d.Saves, filepath.FromSlash(strings.TrimPrefix(slashed, savesPrefix)))
	}
	return filepath.Join(d.Mods, filepath.FromSlash(slashed))
}

// Filename returns the mod filename of an absolute save path, or false when
// the path is outside both trees.
func (d Dirs) Filename(path string) (string, bool) {
	if rel, err := filepath.Rel(d.Saves, path); err == nil && !strings.HasPrefix(rel, "..") {
		return savesPrefix + filepath.ToSlash(rel), true
	}
	if rel, err := filepath.Rel(filepath.Join(d.Mods, "Workshop"), path); err == nil && !strings.HasPrefix(rel, "..") {
		return workshopPrefix + filepath.ToSlash(rel), true
	}
	return "", false
}

// ModFile is one save file found on disk.
type ModFile struct {
	Filename string // Workshop/… or Saves/…
	Path     string
	Mtime    int64
}

// IsModFile reports whether name looks like a save file.
func IsModFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json") && !skipped[filepath.Base(name)]
}

// ModFiles lists the save files of both trees. A missing tree is empty.
func ModFiles(d Dirs) ([]ModFile, error) {
	var files []ModFile
	for _, root := range []string{filepath.Join(d.Mods, "Workshop"), d.Saves} {
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() || !IsModFile(entry.Name()) {
				return nil
			}
			info, err := entry.Info()
			if err != nil {
				return err
			}
			name, ok := d.Filename(path)
			if !ok {
				return nil
			}
			files = append(files, ModFile{Filename: name, Path: path, Mtime: info.ModTime().Unix()})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan '%s': %w", root, err)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}

// CacheFiles lists the cached assets modified at or after lastSweep. Partial
// downloads and subdirectories are ignored.
func CacheFiles(modsDir string, lastSweep int64) ([]db.Sighting, error) {
	var sightings []db.Sighting
	for _, class := range cachepath.Stored() {
		dir := filepath.Join(modsDir, class.Dir())
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read '%s': %w", dir, err)
		}
		// One sighting per stem, the extension a cache lookup would find.
		picked := make(map[string]os.DirEntry)
		var stems []string
		for _, entry := range entries {
			if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
				continue
			}
			ext := filepath.Ext(entry.Name())
			stem := strings.TrimSuffix(entry.Name(), ext)
			prev, seen := picked[stem]
			if !seen {
				stems = append(stems, stem)
			}
			if !seen || extRank(class, ext) < extRank(class, filepath.Ext(prev.Name())) {
				picked[stem] = entry
			}
		}
		for _, stem := range stems {
			entry := picked[stem]
			info, err := entry.Info()
			if err != nil {
				// Removed between ReadDir and Info.
				continue
			}
			mtime := info.ModTime().Unix()
			if mtime < lastSweep {
				continue
			}
			sightings = append(sightings, db.Sighting{
				Dir:      class.Dir(),
				Filename: stem,
				Ext:      filepath.Ext(entry.Name()),
				Mtime:    mtime,
				Size:     info.Size(),
			})
		}
	}
	return sightings, nil
}

// extRank is the position of ext in the lookup order of class. Unknown
// extensions rank last.
func extRank(class cachepath.Class, ext string) int {
	exts := class.Extensions()
	for i, e := range exts {
		if e == ext {
			return i
		}
	}
	return len(exts)
}
