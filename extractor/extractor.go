// Package extractor walks Tabletop Simulator save files and yields every
// externally hosted asset they reference, together with the structural trail
// at which each reference was found.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/valyala/fastjson"

	"tts-cache/cachepath"
)

// ErrMalformedInput is returned for save files that cannot be decoded, whose
// root is not an object, or whose fixed-shape records are broken.
var ErrMalformedInput = errors.New("malformed save file")

// Ref is one asset reference inside a save file.
type Ref struct {
	Trail []string
	URL   string
}

// Key returns the recoded cache key of the reference URL.
func (r Ref) Key() string { return cachepath.Recode(r.URL) }

// Class returns the classification derived from the trail.
func (r Ref) Class() cachepath.Class { return cachepath.Classify(r.Trail) }

// Result is everything a single extraction pass produces.
type Result struct {
	Refs []Ref
	Mod  ModInfo
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// pass holds the state of one extraction. Nothing in it outlives the call
// to Walk that created it.
type pass struct {
	seen map[string]bool
	emit func(Ref) error
	mod  *ModInfo
}

// Walk extracts references from data and calls fn for each distinct one, in
// document order. It stops at the first error returned by fn. The metadata
// found among the top-level keys is returned alongside.
func Walk(data []byte, fn func(Ref) error) (ModInfo, error) {
	var mod ModInfo
	data = bytes.TrimPrefix(data, utf8BOM)

	root, err := fastjson.ParseBytes(data)
	if err != nil {
		return mod, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	obj, err := root.Object()
	if err != nil {
		return mod, fmt.Errorf("%w: root is %s, not an object", ErrMalformedInput, root.Type())
	}

	p := &pass{seen: make(map[string]bool), emit: fn, mod: &mod}
	if err := p.walkObject(obj, nil, 0); err != nil {
		return mod, err
	}
	return mod, nil
}

// Extract collects every reference of data.
func Extract(data []byte) (*Result, error) {
	res := &Result{}
	mod, err := Walk(data, func(r Ref) error {
		res.Refs = append(res.Refs, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Mod = mod
	return res, nil
}

// ExtractFile reads and extracts the save file at path.
func ExtractFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read save file '%s': %w", path, err)
	}
	res, err := Extract(data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract '%s': %w", path, err)
	}
	return res, nil
}

func (p *pass) walkObject(obj *fastjson.Object, trail []string, depth int) error {
	name := nodeName(obj, trail)

	var err error
	obj.Visit(func(k []byte, v *fastjson.Value) {
		if err != nil {
			return
		}
		err = p.visit(string(k), v, trail, name, depth)
	})
	return err
}

func (p *pass) visit(key string, v *fastjson.Value, trail []string, name string, depth int) error {
	if depth == 0 {
		p.mod.capture(key, v)
	}

	switch {
	case key == "AudioLibrary":
		return p.audioLibrary(v, extend(trail, key))

	case v.Type() == fastjson.TypeObject:
		child, _ := v.Object()
		return p.walkObject(child, childTrail(trail, name, key), depth+1)

	case v.Type() == fastjson.TypeArray:
		items, _ := v.Array()
		next := childTrail(trail, name, key)
		for _, item := range items {
			if item.Type() != fastjson.TypeObject {
				continue
			}
			child, _ := item.Object()
			if err := p.walkObject(child, next, depth+1); err != nil {
				return err
			}
		}
		return nil

	case v.Type() != fastjson.TypeString:
		return nil

	case key == "LuaScript":
		for _, u := range scriptURLs(string(v.GetStringBytes())) {
			if err := p.add(extend(trail, key), u); err != nil {
				return err
			}
		}
		return nil

	case isURLKey(key):
		return p.add(extend(trail, key), string(v.GetStringBytes()))
	}
	return nil
}

// audioLibrary emits the Item1 URL of every {Item1: url, Item2: title}
// record. The record shape is fixed; anything else is malformed input.
func (p *pass) audioLibrary(v *fastjson.Value, trail []string) error {
	if v.Type() == fastjson.TypeNull {
		return nil
	}
	items, err := v.Array()
	if err != nil {
		return fmt.Errorf("%w: AudioLibrary is %s, not a list", ErrMalformedInput, v.Type())
	}
	for i, item := range items {
		u := item.Get("Item1")
		if u == nil || u.Type() != fastjson.TypeString {
			return fmt.Errorf("%w: AudioLibrary item %d has no Item1", ErrMalformedInput, i)
		}
		if err := p.add(trail, string(u.GetStringBytes())); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) add(trail []string, raw string) error {
	u := cleanURL(raw)
	if u == "" {
		return nil
	}
	key := cachepath.Recode(u)
	if key == "" || p.seen[key] {
		return nil
	}
	if _, err := cachepath.ClassifyStrict(trail); err != nil {
		return fmt.Errorf("reference %s at %s: %w", u, strings.Join(trail, "/"), err)
	}
	p.seen[key] = true
	return p.emit(Ref{Trail: trail, URL: u})
}

func isURLKey(key string) bool {
	return key != "PageURL" && strings.HasSuffix(strings.ToLower(key), "url")
}

var bracedRe = regexp.MustCompile(`\{[^}]*\}`)

// cleanURL drops the {…} annotations the game embeds next to some URLs.
func cleanURL(raw string) string {
	return strings.TrimSpace(bracedRe.ReplaceAllString(raw, ""))
}

// extend returns a new trail with segs appended; the input is never aliased.
func extend(trail []string, segs ...string) []string {
	out := make([]string, 0, len(trail)+len(segs))
	out = append(out, trail...)
	return append(out, segs...)
}

// childTrail is the trail of a nested value: the key, preceded by the node's
// display name as a quoted segment when it has one.
func childTrail(trail []string, name, key string) []string {
	if name == "" {
		return extend(trail, key)
	}
	return extend(trail, quote(name), key)
}

func quote(name string) string { return `"` + name + `"` }
