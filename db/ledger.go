package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tts-cache/cachepath"
)

// ErrModNotFound is returned for operations on a mod the ledger has never seen.
var ErrModNotFound = errors.New("mod not found")

// Ledger tracks assets, mods and the references between them. Every method
// is a short self-contained transaction, so callers never hold the database
// across network I/O.
type Ledger struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewLedger wraps an opened database.
func NewLedger(gdb *gorm.DB, log *zap.SugaredLogger) *Ledger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ledger{db: gdb, log: log}
}

// DB exposes the underlying connection.
func (l *Ledger) DB() *gorm.DB { return l.db }

// Sighting is one file found by a walk of the cache directory tree.
type Sighting struct {
	Dir      string
	Filename string // Stem without extension
	Ext      string
	Mtime    int64
	Size     int64
}

// Reference is one extracted reference of a mod, already resolved to its
// cache candidate.
type Reference struct {
	Key   string
	URL   string
	Trail []string
	Dir   string
	Ext   string
}

// AssetRecord is the outcome of one download.
type AssetRecord struct {
	URL         string
	Dir         string
	Ext         string
	Size        int64
	Mtime       int64
	Status      string // Empty on success
	DisplayName string
	SteamSHA1   string
	ContentSHA1 string
}

// Succeeded reports whether the record describes a completed download.
func (r AssetRecord) Succeeded() bool { return r.Status == "" }

// MissingRef is an asset a mod needs downloaded.
type MissingRef struct {
	URL   string
	Trail []string
}

// ModMeta is the metadata parsed from a save file.
type ModMeta struct {
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
	Tags           []string
}

var staleAggregates = map[string]interface{}{
	"total_assets":   Stale,
	"missing_assets": Stale,
	"size":           Stale,
}

const batchSize = 500

// LastSweepTime returns the time of the last committed filesystem sweep.
func (l *Ledger) LastSweepTime(ctx context.Context) (int64, error) {
	meta, err := loadMeta(l.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	return meta.LastSweepTime, nil
}

// UpsertFilesystemSightings records files found in the cache tree. Only
// files modified at or after the previous sweep are considered. A known URL
// is never overwritten. The sweep time advances to now once the batch has
// committed. It returns the number of rows touched.
func (l *Ledger) UpsertFilesystemSightings(ctx context.Context, sightings []Sighting, now time.Time) (int64, error) {
	last, err := l.LastSweepTime(ctx)
	if err != nil {
		return 0, err
	}

	var touched int64
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range sightings {
			if s.Mtime < last {
				continue
			}
			asset := Asset{
				Filename: s.Filename,
				CacheDir: s.Dir,
				CacheExt: s.Ext,
				Size:     s.Size,
				Mtime:    s.Mtime,
				IsNew:    true,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "filename"}},
				DoUpdates: clause.AssignmentColumns([]string{"cache_dir", "cache_ext", "size", "mtime", "is_new"}),
			}).Create(&asset)
			if res.Error != nil {
				return fmt.Errorf("failed to record sighting of %s: %w", s.Filename, res.Error)
			}
			touched += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := l.db.WithContext(ctx).Model(&Meta{}).Where("id = ?", 1).
		Update("last_sweep_time", now.Unix()).Error; err != nil {
		return touched, fmt.Errorf("failed to advance sweep time: %w", err)
	}
	return touched, nil
}

// UpsertModSighting makes sure the mod is known to the ledger.
func (l *Ledger) UpsertModSighting(ctx context.Context, modFilename string) (Mod, error) {
	var mod Mod
	err := l.db.WithContext(ctx).Where(Mod{Filename: modFilename}).FirstOrCreate(&mod).Error
	if err != nil {
		return mod, fmt.Errorf("failed to record mod %s: %w", modFilename, err)
	}
	return mod, nil
}

// ModNeedsReparse reports whether the save file must be parsed again: the
// mod is unknown, or the file changed after the last successful parse.
func (l *Ledger) ModNeedsReparse(ctx context.Context, modFilename string, mtime int64) (bool, error) {
	var mod Mod
	err := l.db.WithContext(ctx).Where("filename = ?", modFilename).First(&mod).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up mod %s: %w", modFilename, err)
	}
	return mtime > mod.Mtime, nil
}

// UpsertModReferences reconciles the references extracted from a mod with the
// ledger. Unknown assets are created, known ones learn their URL, and missing
// associations are added keeping the first trail seen. The mod aggregates
// are invalidated only when an asset or an association was created.
func (l *Ledger) UpsertModReferences(ctx context.Context, modFilename string, refs []Reference) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mod Mod
		if err := tx.Where(Mod{Filename: modFilename}).FirstOrCreate(&mod).Error; err != nil {
			return fmt.Errorf("failed to record mod %s: %w", modFilename, err)
		}

		ids, created, err := upsertAssets(tx, refs)
		if err != nil {
			return err
		}

		links := make([]ModAsset, 0, len(refs))
		for _, r := range refs {
			links = append(links, ModAsset{AssetID: ids[r.Key], ModID: mod.ID, Trail: encodeTrail(r.Trail)})
		}
		var linked int64
		if len(links) > 0 {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "asset_id"}, {Name: "mod_id"}},
				DoNothing: true,
			}).CreateInBatches(&links, batchSize)
			if res.Error != nil {
				return fmt.Errorf("failed to link assets to %s: %w", modFilename, res.Error)
			}
			linked = res.RowsAffected
		}

		if created > 0 || linked > 0 {
			if err := tx.Model(&Mod{}).Where("id = ?", mod.ID).Updates(staleAggregates).Error; err != nil {
				return fmt.Errorf("failed to invalidate %s: %w", modFilename, err)
			}
		}
		return nil
	})
}

// upsertAssets returns the asset id of every reference key and the number of
// asset rows that did not exist before.
func upsertAssets(tx *gorm.DB, refs []Reference) (map[string]uint, int, error) {
	ids := make(map[string]uint, len(refs))
	known := make(map[string]Asset, len(refs))

	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.Key)
	}
	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))
		var found []Asset
		if err := tx.Where("filename IN ?", keys[start:end]).Find(&found).Error; err != nil {
			return nil, 0, fmt.Errorf("failed to look up assets: %w", err)
		}
		for _, a := range found {
			known[a.Filename] = a
		}
	}

	created := 0
	for _, r := range refs {
		if _, done := ids[r.Key]; done {
			continue
		}
		if a, ok := known[r.Key]; ok {
			if a.URL != r.URL {
				if err := tx.Model(&Asset{}).Where("id = ?", a.ID).Update("url", r.URL).Error; err != nil {
					return nil, 0, fmt.Errorf("failed to update url of %s: %w", r.Key, err)
				}
			}
			ids[r.Key] = a.ID
			continue
		}
		a := Asset{URL: r.URL, Filename: r.Key, CacheDir: r.Dir, CacheExt: r.Ext}
		if err := tx.Create(&a).Error; err != nil {
			return nil, 0, fmt.Errorf("failed to create asset %s: %w", r.URL, err)
		}
		ids[r.Key] = a.ID
		created++
	}
	return ids, created, nil
}

// UpdateModMetadata stores the parsed metadata of a mod, replaces its tags
// and records mtime as the time of the last successful parse.
func (l *Ledger) UpdateModMetadata(ctx context.Context, modFilename string, meta ModMeta, mtime int64) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mod Mod
		if err := tx.Where(Mod{Filename: modFilename}).FirstOrCreate(&mod).Error; err != nil {
			return fmt.Errorf("failed to record mod %s: %w", modFilename, err)
		}

		err := tx.Model(&mod).Select(
			"Name", "EpochTime", "Date", "Version", "GameMode", "GameType", "GameComplexity",
			"MinPlayers", "MaxPlayers", "MinPlayTime", "MaxPlayTime", "Mtime",
		).Updates(Mod{
			Name:           meta.Name,
			EpochTime:      meta.EpochTime,
			Date:           meta.Date,
			Version:        meta.Version,
			GameMode:       meta.GameMode,
			GameType:       meta.GameType,
			GameComplexity: meta.GameComplexity,
			MinPlayers:     meta.MinPlayers,
			MaxPlayers:     meta.MaxPlayers,
			MinPlayTime:    meta.MinPlayTime,
			MaxPlayTime:    meta.MaxPlayTime,
			Mtime:          mtime,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update mod %s: %w", modFilename, err)
		}

		tags := make([]Tag, 0, len(meta.Tags))
		for _, name := range meta.Tags {
			var tag Tag
			if err := tx.Where(Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
				return fmt.Errorf("failed to record tag %q: %w", name, err)
			}
			tags = append(tags, tag)
		}
		if err := tx.Model(&mod).Association("Tags").Replace(tags); err != nil {
			return fmt.Errorf("failed to replace tags of %s: %w", modFilename, err)
		}
		return nil
	})
}

// missingCondition selects the assets Asset.Missing reports as missing.
const missingCondition = "(assets.mtime = 0 OR (assets.steam_sha1 <> '' AND upper(assets.content_sha1) <> upper(assets.steam_sha1)))"

// MissingAssetsFor lists the assets of a mod that are absent or fail hash
// verification, skipping references the user chose to ignore.
func (l *Ledger) MissingAssetsFor(ctx context.Context, modFilename string) ([]MissingRef, error) {
	type row struct {
		URL   string
		Trail string
	}
	var rows []row
	err := l.db.WithContext(ctx).
		Table("mod_assets").
		Select("assets.url AS url, mod_assets.trail AS trail").
		Joins("JOIN assets ON assets.id = mod_assets.asset_id").
		Joins("JOIN mods ON mods.id = mod_assets.mod_id").
		Where("mods.filename = ? AND mod_assets.ignore_missing = ? AND assets.url <> ''", modFilename, false).
		Where(missingCondition).
		Order("mod_assets.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list missing assets of %s: %w", modFilename, err)
	}

	out := make([]MissingRef, 0, len(rows))
	for _, r := range rows {
		out = append(out, MissingRef{URL: r.URL, Trail: decodeTrail(r.Trail)})
	}
	return out, nil
}

// RecordDownloadOutcome writes the result of a download. A successful
// download makes its path authoritative and invalidates every mod that
// references the asset; a failure only records the reason.
func (l *Ledger) RecordDownloadOutcome(ctx context.Context, rec AssetRecord) error {
	key := cachepath.Recode(rec.URL)
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var asset Asset
		err := tx.Where(Asset{Filename: key}).Attrs(Asset{URL: rec.URL}).FirstOrCreate(&asset).Error
		if err != nil {
			return fmt.Errorf("failed to look up asset %s: %w", rec.URL, err)
		}

		updates := map[string]interface{}{
			"url":             rec.URL,
			"download_status": rec.Status,
		}
		if rec.DisplayName != "" {
			updates["display_name"] = rec.DisplayName
		}
		if rec.SteamSHA1 != "" {
			updates["steam_sha1"] = rec.SteamSHA1
		}
		if rec.Succeeded() {
			updates["cache_dir"] = rec.Dir
			updates["cache_ext"] = rec.Ext
			updates["size"] = rec.Size
			updates["mtime"] = rec.Mtime
			if rec.ContentSHA1 != "" {
				updates["content_sha1"] = rec.ContentSHA1
				updates["sha1_checked_at"] = rec.Mtime
			}
		}
		if err := tx.Model(&Asset{}).Where("id = ?", asset.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to record download of %s: %w", rec.URL, err)
		}

		if !rec.Succeeded() {
			return nil
		}
		err = tx.Model(&Mod{}).
			Where("id IN (?)", tx.Model(&ModAsset{}).Select("mod_id").Where("asset_id = ?", asset.ID)).
			Updates(staleAggregates).Error
		if err != nil {
			return fmt.Errorf("failed to invalidate mods of %s: %w", rec.URL, err)
		}
		return nil
	})
}

// ModsNeedingRefresh returns the mods whose aggregates are stale or which
// reference an asset a sweep flagged as new. The new flags are consumed.
func (l *Ledger) ModsNeedingRefresh(ctx context.Context) ([]string, error) {
	var names []string
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []string
		if err := tx.Model(&Mod{}).
			Where("total_assets < 0 OR missing_assets < 0 OR size < 0").
			Pluck("filename", &stale).Error; err != nil {
			return err
		}
		var fresh []string
		if err := tx.Model(&Mod{}).Distinct().
			Joins("JOIN mod_assets ON mod_assets.mod_id = mods.id").
			Joins("JOIN assets ON assets.id = mod_assets.asset_id").
			Where("assets.is_new = ?", true).
			Pluck("mods.filename", &fresh).Error; err != nil {
			return err
		}
		if err := tx.Model(&Asset{}).Where("is_new = ?", true).Update("is_new", false).Error; err != nil {
			return err
		}
		names = union(stale, fresh)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list mods needing refresh: %w", err)
	}
	return names, nil
}

func union(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// RecomputeAggregates recounts the total, missing and size aggregates of a
// mod from its current associations.
func (l *Ledger) RecomputeAggregates(ctx context.Context, modFilename string) (Mod, error) {
	var mod Mod
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("filename = ?", modFilename).First(&mod).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrModNotFound, modFilename)
			}
			return err
		}
		return recompute(tx, &mod)
	})
	return mod, err
}

func recompute(tx *gorm.DB, mod *Mod) error {
	var agg struct {
		Total   int
		Missing int
		Size    int64
	}
	err := tx.Table("mod_assets").
		Select("COUNT(*) AS total, "+
			"COALESCE(SUM(CASE WHEN mod_assets.ignore_missing = 0 AND "+missingCondition+" THEN 1 ELSE 0 END), 0) AS missing, "+
			"COALESCE(SUM(CASE WHEN assets.mtime > 0 THEN assets.size ELSE 0 END), 0) AS size").
		Joins("JOIN assets ON assets.id = mod_assets.asset_id").
		Where("mod_assets.mod_id = ?", mod.ID).
		Scan(&agg).Error
	if err != nil {
		return fmt.Errorf("failed to count assets of %s: %w", mod.Filename, err)
	}
	mod.TotalAssets, mod.MissingAssets, mod.Size = agg.Total, agg.Missing, agg.Size
	return tx.Model(&Mod{}).Where("id = ?", mod.ID).Updates(map[string]interface{}{
		"total_assets":   agg.Total,
		"missing_assets": agg.Missing,
		"size":           agg.Size,
	}).Error
}

// SetIgnoreMissing marks a reference of a mod as excluded from missing
// counts, or includes it again.
func (l *Ledger) SetIgnoreMissing(ctx context.Context, modFilename, url string, ignore bool) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mod Mod
		if err := tx.Where("filename = ?", modFilename).First(&mod).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrModNotFound, modFilename)
			}
			return err
		}
		res := tx.Model(&ModAsset{}).
			Where("mod_id = ? AND asset_id IN (?)", mod.ID, tx.Model(&Asset{}).Select("id").Where("url = ?", url)).
			Update("ignore_missing", ignore)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("mod %s does not reference %s", modFilename, url)
		}
		return tx.Model(&Mod{}).Where("id = ?", mod.ID).Updates(staleAggregates).Error
	})
}

// AssetsNeedingHash returns present assets whose file changed after their
// content hash was last computed.
func (l *Ledger) AssetsNeedingHash(ctx context.Context) ([]Asset, error) {
	var assets []Asset
	err := l.db.WithContext(ctx).
		Where("mtime > 0 AND mtime > sha1_checked_at").
		Order("id").
		Find(&assets).Error
	return assets, err
}

// RecordContentHash stores the digest of a cached file and flags the asset,
// so the mods referencing it are recounted on the next refresh.
func (l *Ledger) RecordContentHash(ctx context.Context, filename, sha1 string, checkedAt int64) error {
	return l.db.WithContext(ctx).Model(&Asset{}).Where("filename = ?", filename).Updates(map[string]interface{}{
		"content_sha1":    sha1,
		"sha1_checked_at": checkedAt,
		"is_new":          true,
	}).Error
}
