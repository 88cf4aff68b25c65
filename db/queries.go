package db

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ModAssetRow is one reference of a mod as shown to the user.
type ModAssetRow struct {
	URL            string
	Trail          []string
	Path           string
	Size           int64
	Mtime          int64
	DownloadStatus string
	DisplayName    string
	IgnoreMissing  bool
	Missing        bool
}

// GetMod returns the mod with its tags, recomputing stale aggregates first.
func (l *Ledger) GetMod(ctx context.Context, modFilename string) (Mod, error) {
	var mod Mod
	err := l.db.WithContext(ctx).Preload("Tags").Where("filename = ?", modFilename).First(&mod).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return mod, fmt.Errorf("%w: %s", ErrModNotFound, modFilename)
	}
	if err != nil {
		return mod, err
	}
	if mod.Stale() {
		if err := recompute(l.db.WithContext(ctx), &mod); err != nil {
			return mod, err
		}
	}
	return mod, nil
}

// ListMods returns every known mod ordered by name. Stale aggregates are
// recomputed before they are returned.
func (l *Ledger) ListMods(ctx context.Context) ([]Mod, error) {
	var mods []Mod
	if err := l.db.WithContext(ctx).Preload("Tags").Order("name, filename").Find(&mods).Error; err != nil {
		return nil, fmt.Errorf("failed to list mods: %w", err)
	}
	for i := range mods {
		if !mods[i].Stale() {
			continue
		}
		if err := recompute(l.db.WithContext(ctx), &mods[i]); err != nil {
			return nil, err
		}
	}
	return mods, nil
}

// ModAssets lists every reference of a mod with its cache state.
func (l *Ledger) ModAssets(ctx context.Context, modFilename string) ([]ModAssetRow, error) {
	type row struct {
		Asset
		Trail         string
		IgnoreMissing bool
	}
	var rows []row
	err := l.db.WithContext(ctx).
		Table("mod_assets").
		Select("assets.*, mod_assets.trail AS trail, mod_assets.ignore_missing AS ignore_missing").
		Joins("JOIN assets ON assets.id = mod_assets.asset_id").
		Joins("JOIN mods ON mods.id = mod_assets.mod_id").
		Where("mods.filename = ?", modFilename).
		Order("mod_assets.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list assets of %s: %w", modFilename, err)
	}

	out := make([]ModAssetRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, ModAssetRow{
			URL:            r.URL,
			Trail:          decodeTrail(r.Trail),
			Path:           r.Asset.Path(),
			Size:           r.Size,
			Mtime:          r.Mtime,
			DownloadStatus: r.DownloadStatus,
			DisplayName:    r.DisplayName,
			IgnoreMissing:  r.IgnoreMissing,
			Missing:        r.Asset.Missing(),
		})
	}
	return out, nil
}

// ModsReferencing returns the mods that reference url. It is how a known bad
// asset is traced back to everything that uses it.
func (l *Ledger) ModsReferencing(ctx context.Context, url string) ([]string, error) {
	var names []string
	err := l.db.WithContext(ctx).
		Model(&Mod{}).
		Joins("JOIN mod_assets ON mod_assets.mod_id = mods.id").
		Joins("JOIN assets ON assets.id = mod_assets.asset_id").
		Where("assets.url = ?", url).
		Order("mods.filename").
		Pluck("mods.filename", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up mods referencing %s: %w", url, err)
	}
	return names, nil
}

// AssetByURL returns the asset stored for url.
func (l *Ledger) AssetByURL(ctx context.Context, url string) (Asset, error) {
	var asset Asset
	err := l.db.WithContext(ctx).Where("url = ?", url).First(&asset).Error
	return asset, err
}

// ModFilenames returns the filenames of every known mod.
func (l *Ledger) ModFilenames(ctx context.Context) ([]string, error) {
	var names []string
	err := l.db.WithContext(ctx).Model(&Mod{}).Order("filename").Pluck("filename", &names).Error
	return names, err
}

// ExportContentNames writes "url,name" rows for every asset with a display name.
func (l *Ledger) ExportContentNames(ctx context.Context, w io.Writer) (int, error) {
	var assets []Asset
	err := l.db.WithContext(ctx).
		Where("url <> '' AND display_name <> ''").
		Order("url").
		Find(&assets).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read content names: %w", err)
	}

	cw := csv.NewWriter(w)
	for _, a := range assets {
		if err := cw.Write([]string{a.URL, a.DisplayName}); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(assets), cw.Error()
}

// ImportContentNames reads "url,name" rows and stores the names of assets the
// ledger knows. Unknown URLs are skipped.
func (l *Ledger) ImportContentNames(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	updated := 0
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for line := 1; ; line++ {
			rec, err := cr.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			if len(rec) < 2 || strings.TrimSpace(rec[0]) == "" {
				l.log.Warnw("Skipping malformed content name row", zap.Int("line", line))
				continue
			}
			res := tx.Model(&Asset{}).Where("url = ?", strings.TrimSpace(rec[0])).
				Update("display_name", strings.TrimSpace(rec[1]))
			if res.Error != nil {
				return res.Error
			}
			updated += int(res.RowsAffected)
		}
	})
	if err != nil {
		return updated, fmt.Errorf("failed to import content names: %w", err)
	}
	return updated, nil
}
