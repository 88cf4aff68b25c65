package db

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Stale marks a mod aggregate that must be recomputed before display.
const Stale = -1

// Asset is a remotely hosted resource and its cached copy.
type Asset struct {
	ID             uint   `gorm:"primaryKey"`
	URL            string `gorm:"column:url;not null;default:''"`
	Filename       string `gorm:"uniqueIndex;not null"` // Recoded URL, the cache file stem
	CacheDir       string // Cache subdirectory, e.g. Images
	CacheExt       string // Empty until known
	Size           int64
	Mtime          int64  // Unix seconds of the cached copy, 0 when not present
	ContentSHA1    string `gorm:"column:content_sha1"`
	SteamSHA1      string `gorm:"column:steam_sha1"`
	SHA1CheckedAt  int64  `gorm:"column:sha1_checked_at"`
	DownloadStatus string // Last failure reason, empty on success
	DisplayName    string // From Content-Disposition
	IsNew          bool   `gorm:"index"` // Set by filesystem sweeps until consumed
}

// Path returns the cache-relative path of the asset.
func (a Asset) Path() string {
	return filepath.Join(a.CacheDir, a.Filename+a.CacheExt)
}

// Missing reports whether the asset needs a (re)download: it is absent, or
// its contents do not match the hash the game's CDN published for it.
func (a Asset) Missing() bool {
	if a.Mtime == 0 {
		return true
	}
	return a.SteamSHA1 != "" && !strings.EqualFold(a.ContentSHA1, a.SteamSHA1)
}

// Mod is one save file, either a workshop mod or a user save.
type Mod struct {
	ID             uint   `gorm:"primaryKey"`
	Filename       string `gorm:"uniqueIndex;not null"` // Relative to the data dir, Workshop/… or Saves/…
	Name           string
	EpochTime      int64
	Date           string
	Version        string
	GameMode       string
	GameType       string
	GameComplexity string
	MinPlayers     int
	MaxPlayers     int
	MinPlayTime    int
	MaxPlayTime    int
	Tags           []Tag `gorm:"many2many:mod_tags;"`
	Mtime          int64 // Mtime of the save file at the last successful parse
	TotalAssets    int   `gorm:"default:-1"`
	MissingAssets  int   `gorm:"default:-1"`
	Size           int64 `gorm:"default:-1"`
}

// Stale reports whether the aggregates must be recomputed.
func (m Mod) Stale() bool {
	return m.TotalAssets < 0 || m.MissingAssets < 0 || m.Size < 0
}

// TagNames returns the tag labels of the mod.
func (m Mod) TagNames() []string {
	names := make([]string, 0, len(m.Tags))
	for _, t := range m.Tags {
		names = append(names, t.Name)
	}
	return names
}

// ModAsset links a mod to an asset it references.
type ModAsset struct {
	ID            uint   `gorm:"primaryKey"`
	AssetID       uint   `gorm:"uniqueIndex:idx_mod_asset;not null"`
	ModID         uint   `gorm:"uniqueIndex:idx_mod_asset;index;not null"`
	Trail         string // JSON list, first discovered trail
	IgnoreMissing bool
}

// Tag is a deduplicated label shared between mods.
type Tag struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

// Meta is the single bookkeeping row of the ledger.
type Meta struct {
	ID            uint `gorm:"primaryKey"`
	SchemaVersion int
	LastSweepTime int64
}

// TableName keeps the bookkeeping table apart from domain tables.
func (Meta) TableName() string {
	return "ledger_meta"
}

func encodeTrail(trail []string) string {
	if trail == nil {
		trail = []string{}
	}
	b, _ := json.Marshal(trail)
	return string(b)
}

func decodeTrail(s string) []string {
	var trail []string
	if s == "" {
		return trail
	}
	if err := json.Unmarshal([]byte(s), &trail); err != nil {
		return []string{s}
	}
	return trail
}
