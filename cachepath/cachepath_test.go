package cachepath

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecode(t *testing.T) {
	valid := regexp.MustCompile(`^[A-Za-z0-9_]*$`)
	urls := []string{
		"http://x.com/a.png",
		"https://steamusercontent-a.akamaihd.net/ugc/1234/ABCDEF/",
		"http://example.com/some file (1).jpg?dl=1&x=ü",
		"",
		"{verifycache}http://i.imgur.com/abc_def.png",
	}
	for _, u := range urls {
		got := Recode(u)
		assert.Regexp(t, valid, got, "Recode(%q)", u)
		assert.Equal(t, got, Recode(u), "Recode must be deterministic")
	}
	assert.Equal(t, "httpxcomapng", Recode("http://x.com/a.png"))
	assert.Equal(t, "httpiimgurcomabc_defpng", Recode("http://i.imgur.com/abc_def.png"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		trail []string
		want  Class
	}{
		{"mesh", []string{"ObjectStates", "CustomMesh", "MeshURL"}, Model},
		{"collider", []string{"CustomMesh", "ColliderURL"}, Model},
		{"bundle", []string{"CustomAssetbundle", "AssetbundleURL"}, AssetBundle},
		{"bundle secondary", []string{"CustomAssetbundle", "AssetbundleSecondaryURL"}, AssetBundle},
		{"music player", []string{"MusicPlayer", "CurrentAudioURL"}, Audio},
		{"audio library", []string{"MusicPlayer", "AudioLibrary"}, Audio},
		{"pdf", []string{"CustomPDF", "PDFUrl"}, PDF},
		{"lua", []string{"ObjectStates", "LuaScript"}, Script},
		{"ui assets", []string{"CustomUIAssets", `"board"`, "URL"}, Script},
		{"ui assets any terminal", []string{"CustomUIAssets", "MeshURL"}, Script},
		{"diffuse", []string{"CustomMesh", "DiffuseURL"}, Image},
		{"unknown is image", []string{"Something"}, Image},
		{"empty", nil, Image},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.trail))
		})
	}
}

func TestClassifyStrict(t *testing.T) {
	_, err := ClassifyStrict([]string{"CustomDeck", "1", "FaceURL"})
	require.NoError(t, err)

	_, err = ClassifyStrict([]string{"CustomUIAssets", "WhateverURL"})
	require.NoError(t, err)

	_, err = ClassifyStrict([]string{"Weird", "HologramURL"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownClass))
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		trail []string
		want  string
	}{
		{"image with extension", "http://x.com/a.png", []string{"DiffuseURL"}, filepath.Join("Images", "httpxcomapng.png")},
		{"model with extension", "http://x.com/b.obj", []string{"ContainedObjects", "MeshURL"}, filepath.Join("Models", "httpxcombobj.obj")},
		{"model default", "http://x.com/mesh", []string{"MeshURL"}, filepath.Join("Models", "httpxcommesh.obj")},
		{"query ignored", "http://x.com/a.jpeg?dl=1", []string{"ImageURL"}, filepath.Join("Images", "httpxcomajpegdl1.jpg")},
		{"image without extension", "http://x.com/img", []string{"ImageURL"}, filepath.Join("Images", "httpxcomimg")},
		{"audio without extension", "http://x.com/song", []string{"CurrentAudioURL"}, filepath.Join("Audio", "httpxcomsong")},
		{"pdf upper case", "http://x.com/rules.pdf", []string{"PDFUrl"}, filepath.Join("PDF", "httpxcomrulespdf.PDF")},
		{"bundle default", "http://x.com/b", []string{"AssetbundleURL"}, filepath.Join("Assetbundles", "httpxcomb.unity3d")},
		{"script model", "http://x.com/m.obj", []string{"LuaScript"}, filepath.Join("Models", "httpxcommobj.obj")},
		{"script fallback image", "http://pastebin.com/raw/xyz", []string{"LuaScript"}, filepath.Join("Images", "httppastebincomrawxyz")},
		{"foreign extension ignored", "http://x.com/a.php", []string{"ImageURL"}, filepath.Join("Images", "httpxcomaphp")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.url, tt.trail).Path())
		})
	}
}

func TestResolveMeshAlwaysModelDir(t *testing.T) {
	for _, u := range []string{"http://a/b", "http://a/b.obj", "http://a/b.png?x"} {
		c := Resolve(u, []string{"X", "MeshURL"})
		assert.Equal(t, "Models", c.Dir)
		assert.Equal(t, ".obj", c.Ext)
	}
}

func TestResolveFromExtension(t *testing.T) {
	c, ok := ResolveFromExtension("http://x.com/a", "JPEG")
	require.True(t, ok)
	assert.Equal(t, Image, c.Class)
	assert.Equal(t, ".jpg", c.Ext)

	c, ok = ResolveFromExtension("http://x.com/a", ".pdf")
	require.True(t, ok)
	assert.Equal(t, ".PDF", c.Ext)

	_, ok = ResolveFromExtension("http://x.com/a", ".exe")
	assert.False(t, ok)
}

func TestFindCached(t *testing.T) {
	root := t.TempDir()
	u := "http://x.com/picture"
	stem := Recode(u)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Images"), 0755))

	_, ok := FindCached(root, u, Image)
	assert.False(t, ok)

	// Both exist; .jpg comes before .gif in the search order.
	require.NoError(t, os.WriteFile(filepath.Join(root, "Images", stem+".gif"), []byte("g"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Images", stem+".jpg"), []byte("j"), 0644))

	c, ok := FindCached(root, u, Image)
	require.True(t, ok)
	assert.Equal(t, ".jpg", c.Ext)

	c = ResolveExisting(root, u, []string{"ImageURL"})
	assert.Equal(t, filepath.Join("Images", stem+".jpg"), c.Path())
}

func TestExtensionForMIME(t *testing.T) {
	assert.Equal(t, ".png", ExtensionForMIME("image/png"))
	assert.Equal(t, ".jpg", ExtensionForMIME("image/jpeg; charset=binary"))
	assert.Equal(t, ".mp3", ExtensionForMIME("audio/mpeg"))
	assert.Equal(t, "", ExtensionForMIME("text/html; charset=utf-8"))
}
