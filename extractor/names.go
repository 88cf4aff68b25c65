package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/valyala/fastjson"

	"tts-cache/cachepath"
)

// Generic object names the game assigns by default. They say nothing about
// the object and are never used as trail segments.
var genericNames = map[string]bool{
	"deck":                      true,
	"deckcustom":                true,
	"card":                      true,
	"cardcustom":                true,
	"bag":                       true,
	"infinite_bag":              true,
	"custom_model":              true,
	"custom_model_bag":          true,
	"custom_model_infinite_bag": true,
	"custom_assetbundle":        true,
	"custom_tile":               true,
	"custom_token":              true,
	"custom_board":              true,
	"custom_pdf":                true,
	"figurine_custom":           true,
	"notecard":                  true,
	"3dtext":                    true,
}

var bracketRe = regexp.MustCompile(`\[[^\]]*\]`)

func cleanName(raw string) string {
	n := strings.TrimSpace(raw)
	if n == "" || genericNames[strings.ToLower(n)] {
		return ""
	}
	n = strings.TrimPrefix(n, "Custom_")
	return strings.TrimSpace(bracketRe.ReplaceAllString(n, ""))
}

// nodeName returns the display name of obj for use in child trails.
// Nickname wins over Name. A name already present in the trail is refused so
// that a segment never repeats itself.
func nodeName(obj *fastjson.Object, trail []string) string {
	for _, field := range []string{"Nickname", "Name"} {
		v := obj.Get(field)
		if v == nil || v.Type() != fastjson.TypeString {
			continue
		}
		n := cleanName(string(v.GetStringBytes()))
		if n == "" {
			continue
		}
		if inTrail(trail, n) {
			return ""
		}
		return n
	}
	return ""
}

func inTrail(trail []string, name string) bool {
	q := quote(name)
	for _, seg := range trail {
		if seg == name || seg == q {
			return true
		}
	}
	return false
}

var scriptURLRe = regexp.MustCompile(`https?://[^\s"'<>()\[\]{}\\]+`)

// Hosts that serve assets from extension-less URLs.
var extensionlessHosts = []string{
	"pastebin.com",
	"paste.ee",
	"hastebin.com",
	"drive.google.com",
	"docs.google.com",
	"dropbox.com",
	"dropboxusercontent.com",
	"onedrive.live.com",
	"steamusercontent.com",
	"steamuserimages-a.akamaihd.net",
	"steamusercontent-a.akamaihd.net",
}

// scriptURLs finds the cacheable URLs inside a Lua script.
func scriptURLs(script string) []string {
	var out []string
	for _, m := range scriptURLRe.FindAllString(script, -1) {
		m = strings.TrimRight(m, ".,;:!")
		if cacheableScriptURL(m) {
			out = append(out, m)
		}
	}
	return out
}

func cacheableScriptURL(u string) bool {
	if _, ok := cachepath.ResolveFromExtension(u, cachepath.URLExt(u)); ok {
		return true
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, h := range extensionlessHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
