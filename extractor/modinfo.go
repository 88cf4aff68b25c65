package extractor

import (
	"github.com/valyala/fastjson"
)

// ModInfo is the mod metadata found among the top-level keys of a save file.
// Fields absent from the file keep their zero value.
type ModInfo struct {
	SaveName       string
	EpochTime      int64
	Date           string
	VersionNumber  string
	GameMode       string
	GameType       string
	GameComplexity string
	MinPlayers     int
	MaxPlayers     int
	MinPlayTime    int
	MaxPlayTime    int
	Tags           []string
}

func (m *ModInfo) capture(key string, v *fastjson.Value) {
	switch key {
	case "SaveName":
		m.SaveName = str(v)
	case "EpochTime":
		m.EpochTime = int64Of(v)
	case "Date":
		m.Date = str(v)
	case "VersionNumber":
		m.VersionNumber = str(v)
	case "GameMode":
		m.GameMode = str(v)
	case "GameType":
		m.GameType = str(v)
	case "GameComplexity":
		m.GameComplexity = str(v)
	case "PlayerCounts":
		m.MinPlayers, m.MaxPlayers = pair(v)
	case "PlayingTime":
		m.MinPlayTime, m.MaxPlayTime = pair(v)
	case "Tags":
		items, err := v.Array()
		if err != nil {
			return
		}
		m.Tags = m.Tags[:0]
		for _, item := range items {
			if t := str(item); t != "" {
				m.Tags = append(m.Tags, t)
			}
		}
	}
}

func str(v *fastjson.Value) string {
	if v.Type() != fastjson.TypeString {
		return ""
	}
	return string(v.GetStringBytes())
}

func int64Of(v *fastjson.Value) int64 {
	if n, err := v.Int64(); err == nil {
		return n
	}
	if f, err := v.Float64(); err == nil {
		return int64(f)
	}
	return 0
}

// pair reads a [min, max] list of numbers.
func pair(v *fastjson.Value) (int, int) {
	items, err := v.Array()
	if err != nil || len(items) != 2 {
		return 0, 0
	}
	return int(int64Of(items[0])), int(int64Of(items[1]))
}
