package cachepath

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownClass is returned when a reference's terminal key is not one the
// save format is known to use for URLs.
var ErrUnknownClass = errors.New("unknown asset class")

// Class is the kind of asset a reference points at. It decides the cache
// subdirectory, the default extension and the acceptable content types.
type Class int

const (
	Image Class = iota
	Model
	AssetBundle
	Audio
	PDF
	Script
)

type classInfo struct {
	name       string
	dir        string
	defaultExt string
	// extensions is the fixed search order used when matching cached files.
	extensions []string
	// extless classes are often hosted without a usable URL extension and
	// are only finalised once a download reports the real content type.
	extless bool
	upper   bool
}

var classes = map[Class]classInfo{
	Image: {
		name:       "image",
		dir:        "Images",
		defaultExt: ".png",
		extensions: []string{".png", ".jpg", ".gif", ".bmp", ".webp", ".mp4", ".m4v", ".webm", ".mov"},
		extless:    true,
	},
	Model: {
		name:       "model",
		dir:        "Models",
		defaultExt: ".obj",
		extensions: []string{".obj"},
	},
	AssetBundle: {
		name:       "assetbundle",
		dir:        "Assetbundles",
		defaultExt: ".unity3d",
		extensions: []string{".unity3d"},
	},
	Audio: {
		name:       "audio",
		dir:        "Audio",
		defaultExt: ".mp3",
		extensions: []string{".mp3", ".wav", ".ogg", ".ogv"},
		extless:    true,
	},
	PDF: {
		name:       "pdf",
		dir:        "PDF",
		defaultExt: ".PDF",
		extensions: []string{".PDF"},
		upper:      true,
	},
	Script: {
		name: "script",
	},
}

// concreteOrder is the order in which classes are tried when only an
// extension is known.
var concreteOrder = []Class{Image, Model, AssetBundle, Audio, PDF}

// Stored returns the classes that own a cache directory.
func Stored() []Class {
	out := make([]Class, len(concreteOrder))
	copy(out, concreteOrder)
	return out
}

func (c Class) String() string {
	if info, ok := classes[c]; ok {
		return info.name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Dir returns the cache subdirectory of the class. Script references have no
// directory of their own; see Resolve.
func (c Class) Dir() string { return classes[c].dir }

// DefaultExt returns the extension used when nothing better is known.
func (c Class) DefaultExt() string { return classes[c].defaultExt }

// Extensions returns the known extensions of the class in search order.
func (c Class) Extensions() []string {
	exts := classes[c].extensions
	out := make([]string, len(exts))
	copy(out, exts)
	return out
}

// ExtensionOptional reports whether a path of this class may be resolved
// without an extension before the download.
func (c Class) ExtensionOptional() bool { return classes[c].extless }

// Knows reports whether ext is one of the class extensions, ignoring case.
func (c Class) Knows(ext string) bool {
	ext = NormalizeExt(ext)
	for _, e := range classes[c].extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Finish applies the casing convention of the class to ext.
func (c Class) Finish(ext string) string {
	if ext == "" {
		return ""
	}
	if classes[c].upper {
		return strings.ToUpper(ext)
	}
	return strings.ToLower(ext)
}

// Terminal keys and the classes they select. Anything not listed here but
// present in imageKeys is an image.
var keyClasses = map[string]Class{
	"MeshURL":                 Model,
	"ColliderURL":             Model,
	"AssetbundleURL":          AssetBundle,
	"AssetbundleSecondaryURL": AssetBundle,
	"CurrentAudioURL":         Audio,
	"AudioLibrary":            Audio,
	"PDFUrl":                  PDF,
	"LuaScript":               Script,
}

var imageKeys = map[string]bool{
	"ImageURL":          true,
	"ImageSecondaryURL": true,
	"DiffuseURL":        true,
	"NormalURL":         true,
	"FaceURL":           true,
	"BackURL":           true,
	"SkyURL":            true,
	"LutURL":            true,
	"TableURL":          true,
	"URL":               true,
}

const uiAssetsKey = "CustomUIAssets"

// Classify derives the class of a reference from the structural trail at
// which it was found. Unknown terminal keys fall back to Image.
func Classify(trail []string) Class {
	for _, seg := range trail {
		if seg == uiAssetsKey {
			return Script
		}
	}
	if len(trail) == 0 {
		return Image
	}
	if c, ok := keyClasses[trail[len(trail)-1]]; ok {
		return c
	}
	return Image
}

// ClassifyStrict is Classify for extraction: a terminal key that is neither a
// known class key nor a known image key is reported as ErrUnknownClass.
func ClassifyStrict(trail []string) (Class, error) {
	if len(trail) == 0 {
		return Image, fmt.Errorf("%w: empty trail", ErrUnknownClass)
	}
	c := Classify(trail)
	if c == Script {
		return c, nil
	}
	last := trail[len(trail)-1]
	if _, ok := keyClasses[last]; ok {
		return c, nil
	}
	if imageKeys[last] {
		return c, nil
	}
	return c, fmt.Errorf("%w: key %q", ErrUnknownClass, last)
}
