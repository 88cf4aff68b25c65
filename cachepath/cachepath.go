// Package cachepath maps asset URLs to their location inside the Tabletop
// Simulator mod cache. Everything here is pure apart from FindCached, which
// only stats candidate files.
package cachepath

import (
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Recode strips every character that is not a letter, digit or underscore.
// The result is the cache filename stem of a URL. It is not reversible.
func Recode(u string) string {
	var b strings.Builder
	b.Grow(len(u))
	for _, r := range u {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Candidate is a cache-relative path split into its parts. Ext is empty when
// the extension can only be decided after a download.
type Candidate struct {
	Class Class
	Dir   string
	Stem  string
	Ext   string
}

// Path returns the cache-relative path of the candidate.
func (c Candidate) Path() string {
	return filepath.Join(c.Dir, c.Stem+c.Ext)
}

// Complete reports whether the extension is known.
func (c Candidate) Complete() bool { return c.Ext != "" }

// NormalizeExt lower-cases ext, adds the leading dot and folds the spellings
// that are known to be equivalent in the cache.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	switch ext {
	case ".jpeg":
		return ".jpg"
	case ".txt":
		return ".obj"
	}
	return ext
}

// StripQuery removes a trailing ?query and #fragment.
func StripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

// URLExt returns the normalised extension embedded in the path of u, or ""
// when the path has none.
func URLExt(u string) string {
	p := StripQuery(u)
	if parsed, err := url.Parse(p); err == nil && parsed.Host != "" {
		p = parsed.Path
	} else if i := strings.Index(p, "://"); i >= 0 {
		p = p[i+3:]
		if j := strings.Index(p, "/"); j >= 0 {
			p = p[j:]
		} else {
			p = ""
		}
	}
	return NormalizeExt(path.Ext(p))
}

// classForScript picks the concrete class of a URL found in a script, based
// on its extension. Images are the fallback.
func classForScript(u string) Class {
	if c, ok := classForExt(URLExt(u)); ok {
		return c
	}
	return Image
}

func classForExt(ext string) (Class, bool) {
	if ext == "" {
		return Image, false
	}
	for _, c := range concreteOrder {
		if c.Knows(ext) {
			return c, true
		}
	}
	return Image, false
}

// Concrete returns the class the asset is stored as. Script references are
// stored under the class their URL extension implies.
func Concrete(c Class, u string) Class {
	if c == Script {
		return classForScript(u)
	}
	return c
}

// Resolve computes the cache candidate of a URL found at trail, without any
// network access. The URL extension wins over the class default; image and
// audio URLs without an extension resolve with an empty Ext.
func Resolve(u string, trail []string) Candidate {
	return ResolveClass(u, Classify(trail))
}

// ResolveClass is Resolve for an already classified reference.
func ResolveClass(u string, class Class) Candidate {
	c := Concrete(class, u)
	cand := Candidate{Class: c, Dir: c.Dir(), Stem: Recode(u)}

	sources := []func() string{
		func() string {
			if ext := URLExt(u); c.Knows(ext) {
				return ext
			}
			return ""
		},
		func() string {
			if c.ExtensionOptional() {
				return ""
			}
			return c.DefaultExt()
		},
	}
	for _, src := range sources {
		if ext := src(); ext != "" {
			cand.Ext = c.Finish(ext)
			break
		}
	}
	return cand
}

// ResolveFromExtension places u in the cache purely by a known extension.
// It returns false when ext belongs to no class.
func ResolveFromExtension(u, ext string) (Candidate, bool) {
	ext = NormalizeExt(ext)
	c, ok := classForExt(ext)
	if !ok {
		return Candidate{}, false
	}
	return Candidate{Class: c, Dir: c.Dir(), Stem: Recode(u), Ext: c.Finish(ext)}, true
}

// FindCached looks for an existing cached copy of u under any extension known
// for its class and returns the first match in the fixed search order.
func FindCached(root, u string, class Class) (Candidate, bool) {
	c := Concrete(class, u)
	stem := Recode(u)
	for _, ext := range c.Extensions() {
		cand := Candidate{Class: c, Dir: c.Dir(), Stem: stem, Ext: ext}
		if info, err := os.Stat(filepath.Join(root, cand.Path())); err == nil && info.Mode().IsRegular() {
			return cand, true
		}
	}
	return Candidate{}, false
}

// ResolveExisting prefers an already cached file over a freshly computed
// candidate, so a differing guess does not trigger a redundant download.
func ResolveExisting(root, u string, trail []string) Candidate {
	class := Classify(trail)
	if cand, ok := FindCached(root, u, class); ok {
		return cand
	}
	return ResolveClass(u, class)
}

var mimeExts = map[string]string{
	"image/png":             ".png",
	"image/jpeg":            ".jpg",
	"image/jpg":             ".jpg",
	"image/gif":             ".gif",
	"image/bmp":             ".bmp",
	"image/webp":            ".webp",
	"video/mp4":             ".mp4",
	"video/webm":            ".webm",
	"video/quicktime":       ".mov",
	"audio/mpeg":            ".mp3",
	"audio/mp3":             ".mp3",
	"audio/wav":             ".wav",
	"audio/x-wav":           ".wav",
	"audio/wave":            ".wav",
	"audio/ogg":             ".ogg",
	"video/ogg":             ".ogv",
	"application/pdf":       ".pdf",
	"model/obj":             ".obj",
	"text/plain":            ".obj",
	"application/x-tgif":    ".obj",
	"application/vnd.unity": ".unity3d",
	"application/x-unity3d": ".unity3d",
	"application/unity3d":   ".unity3d",
}

// ExtensionForMIME maps a Content-Type header value to a cache extension,
// or "" when the type says nothing useful.
func ExtensionForMIME(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mimeExts[mt]
}
