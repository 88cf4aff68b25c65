package extractor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tts-cache/cachepath"
)

func extract(t *testing.T, doc string) []Ref {
	t.Helper()
	res, err := Extract([]byte(doc))
	require.NoError(t, err)
	return res.Refs
}

func TestExtractScenario(t *testing.T) {
	refs := extract(t, `{"DiffuseURL": "http://x.com/a.png", "ContainedObjects": [{"MeshURL": "http://x.com/b.obj"}]}`)
	require.Len(t, refs, 2)

	assert.Equal(t, []string{"DiffuseURL"}, refs[0].Trail)
	assert.Equal(t, "http://x.com/a.png", refs[0].URL)
	assert.Equal(t, "httpxcomapng", refs[0].Key())
	assert.Equal(t, cachepath.Image, refs[0].Class())
	assert.Equal(t, filepath.Join("Images", cachepath.Recode("http://x.com/a.png")+".png"),
		cachepath.Resolve(refs[0].URL, refs[0].Trail).Path())

	assert.Equal(t, []string{"ContainedObjects", "MeshURL"}, refs[1].Trail)
	assert.Equal(t, "http://x.com/b.obj", refs[1].URL)
	assert.Equal(t, cachepath.Model, refs[1].Class())
	assert.Equal(t, filepath.Join("Models", cachepath.Recode("http://x.com/b.obj")+".obj"),
		cachepath.Resolve(refs[1].URL, refs[1].Trail).Path())
}

func TestExtractDeduplicates(t *testing.T) {
	doc := `{"ObjectStates": [
		{"CustomImage": {"ImageURL": "http://x.com/a.png"}},
		{"CustomImage": {"ImageURL": "http://x.com/a.png"}},
		{"CustomImage": {"ImageURL": "http://x.com/a.png?"}},
		{"CustomImage": {"ImageURL": "http://x.com/b.png"}}
	]}`
	refs := extract(t, doc)
	require.Len(t, refs, 2)
	assert.Equal(t, "http://x.com/a.png", refs[0].URL)
	assert.Equal(t, "http://x.com/b.png", refs[1].URL)
}

func TestExtractKeepsDocumentOrder(t *testing.T) {
	refs := extract(t, `{"ZURL": {"ImageURL": "http://x/z.png"}, "A": {"ImageURL": "http://x/a.png"}}`)
	require.Len(t, refs, 2)
	assert.Equal(t, "http://x/z.png", refs[0].URL)
	assert.Equal(t, "http://x/a.png", refs[1].URL)
}

func TestExtractNames(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			"nickname wins and brackets are stripped",
			`{"ObjectStates": [{"Name": "Custom_Model", "Nickname": "[b]Hero[/b]", "CustomMesh": {"MeshURL": "http://x/m.obj"}}]}`,
			[]string{"ObjectStates", `"Hero"`, "CustomMesh", "MeshURL"},
		},
		{
			"generic name ignored",
			`{"ObjectStates": [{"Name": "Deck", "CustomDeck": {"1": {"FaceURL": "http://x/f.png"}}}]}`,
			[]string{"ObjectStates", "CustomDeck", "1", "FaceURL"},
		},
		{
			"custom prefix stripped",
			`{"ObjectStates": [{"Name": "Custom_Dice", "CustomImage": {"ImageURL": "http://x/d.png"}}]}`,
			[]string{"ObjectStates", `"Dice"`, "CustomImage", "ImageURL"},
		},
		{
			"name equal to a trail label refused",
			`{"ObjectStates": [{"Nickname": "ObjectStates", "CustomImage": {"ImageURL": "http://x/i.png"}}]}`,
			[]string{"ObjectStates", "CustomImage", "ImageURL"},
		},
		{
			"repeated nested name refused",
			`{"ObjectStates": [{"Nickname": "Foo", "ContainedObjects": [{"Nickname": "Foo", "CustomImage": {"ImageURL": "http://x/n.png"}}]}]}`,
			[]string{"ObjectStates", `"Foo"`, "ContainedObjects", "CustomImage", "ImageURL"},
		},
		{
			"empty nickname falls back to name",
			`{"ObjectStates": [{"Nickname": "", "Name": "Board", "CustomImage": {"ImageURL": "http://x/b.png"}}]}`,
			[]string{"ObjectStates", `"Board"`, "CustomImage", "ImageURL"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := extract(t, tt.doc)
			require.Len(t, refs, 1)
			assert.Equal(t, tt.want, refs[0].Trail)
		})
	}
}

func TestExtractAudioLibrary(t *testing.T) {
	doc := `{"MusicPlayer": {"CurrentAudioURL": "http://x/a.mp3", "AudioLibrary": [
		{"Item1": "http://x/a.mp3", "Item2": "First"},
		{"Item1": "http://x/b", "Item2": "Second"}
	]}}`
	refs := extract(t, doc)
	require.Len(t, refs, 2)
	assert.Equal(t, []string{"MusicPlayer", "CurrentAudioURL"}, refs[0].Trail)
	assert.Equal(t, []string{"MusicPlayer", "AudioLibrary"}, refs[1].Trail)
	assert.Equal(t, "http://x/b", refs[1].URL)
	assert.Equal(t, cachepath.Audio, refs[1].Class())
}

func TestExtractMalformedAudioLibrary(t *testing.T) {
	_, err := Extract([]byte(`{"MusicPlayer": {"AudioLibrary": [{"Item2": "no url"}]}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestExtractURLHandling(t *testing.T) {
	doc := `{
		"Tablet": {"PageURL": "http://x/page"},
		"CustomImage": {"ImageURL": "{verifycache}http://x/v.png", "ImageSecondaryURL": ""},
		"CustomPDF": {"PDFUrl": "http://x/rules.pdf"}
	}`
	refs := extract(t, doc)
	require.Len(t, refs, 2)
	assert.Equal(t, "http://x/v.png", refs[0].URL)
	assert.Equal(t, []string{"CustomPDF", "PDFUrl"}, refs[1].Trail)
}

func TestExtractLuaScript(t *testing.T) {
	doc := `{"LuaScript": "local a = 'http://x/a.png'\nlocal b = \"http://x/page.html\"\nWebRequest.get(\"https://pastebin.com/raw/abc\")\nlocal c = 'http://x/a.png'",
		"ObjectStates": [{"LuaScript": "spawn('http://x/m.obj?dl=1')"}]}`
	refs := extract(t, doc)
	require.Len(t, refs, 3)
	assert.Equal(t, "http://x/a.png", refs[0].URL)
	assert.Equal(t, "https://pastebin.com/raw/abc", refs[1].URL)
	assert.Equal(t, []string{"ObjectStates", "LuaScript"}, refs[2].Trail)
	for _, r := range refs {
		assert.Equal(t, cachepath.Script, r.Class())
	}
}

func TestExtractCustomUIAssets(t *testing.T) {
	refs := extract(t, `{"CustomUIAssets": [{"Type": 0, "Name": "board", "URL": "http://x/ui.png"}]}`)
	require.Len(t, refs, 1)
	assert.Equal(t, []string{"CustomUIAssets", "URL"}, refs[0].Trail)
	assert.Equal(t, cachepath.Script, refs[0].Class())
}

func TestExtractMalformedInput(t *testing.T) {
	for _, doc := range []string{`[1, 2]`, `"text"`, `{"a": `, ``, `not json`} {
		_, err := Extract([]byte(doc))
		require.Error(t, err, doc)
		assert.True(t, errors.Is(err, ErrMalformedInput), doc)
	}
}

func TestExtractUnknownKey(t *testing.T) {
	_, err := Extract([]byte(`{"Hologram": {"HologramURL": "http://x/h"}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, cachepath.ErrUnknownClass))
}

func TestExtractModInfo(t *testing.T) {
	doc := "\xEF\xBB\xBF" + `{
		"SaveName": "Big Game",
		"EpochTime": 1700000000,
		"Date": "11/14/2023",
		"VersionNumber": "v13.2",
		"GameMode": "Big Game",
		"GameType": "Board",
		"GameComplexity": "Medium",
		"PlayerCounts": [2, 4],
		"PlayingTime": [30, 90],
		"Tags": ["Strategy", "", "Cards"],
		"ObjectStates": [{"SaveName": "nested is ignored"}]
	}`
	res, err := Extract([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, res.Refs)

	m := res.Mod
	assert.Equal(t, "Big Game", m.SaveName)
	assert.Equal(t, int64(1700000000), m.EpochTime)
	assert.Equal(t, "11/14/2023", m.Date)
	assert.Equal(t, "v13.2", m.VersionNumber)
	assert.Equal(t, "Board", m.GameType)
	assert.Equal(t, "Medium", m.GameComplexity)
	assert.Equal(t, 2, m.MinPlayers)
	assert.Equal(t, 4, m.MaxPlayers)
	assert.Equal(t, 30, m.MinPlayTime)
	assert.Equal(t, 90, m.MaxPlayTime)
	assert.Equal(t, []string{"Strategy", "Cards"}, m.Tags)
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	_, err := Walk([]byte(`{"A": {"ImageURL": "http://x/1.png"}, "B": {"ImageURL": "http://x/2.png"}}`), func(Ref) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestWalkIsolatedBetweenCalls(t *testing.T) {
	doc := []byte(`{"A": {"ImageURL": "http://x/1.png"}}`)
	for i := 0; i < 2; i++ {
		refs := extract(t, string(doc))
		assert.Len(t, refs, 1, "pass %d", i)
	}
}

func TestExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "123.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"SaveName": "S", "A": {"ImageURL": "http://x/1.png"}}`), 0644))
	res, err := ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, "S", res.Mod.SaveName)
	assert.Len(t, res.Refs, 1)

	_, err = ExtractFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
