package db

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SchemaVersion is the version stamped into databases this build writes.
const SchemaVersion = 3

type migration struct {
	version int
	name    string
	apply   func(tx *gorm.DB) error
}

// Migrations run in order inside one transaction each. A database stamped
// with version N only runs the steps above N.
var migrations = []migration{
	{
		version: 1,
		name:    "create tables",
		apply: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&Asset{}, &Mod{}, &ModAsset{}, &Tag{})
		},
	},
	{
		version: 2,
		name:    "unique asset urls",
		apply: func(tx *gorm.DB) error {
			// Filesystem sightings carry no URL yet, so only known URLs are unique.
			return tx.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_url ON assets(url) WHERE url <> ''").Error
		},
	},
	{
		version: 3,
		name:    "asset verification columns",
		apply: func(tx *gorm.DB) error {
			m := tx.Migrator()
			for _, field := range []string{"SteamSHA1", "SHA1CheckedAt", "DisplayName"} {
				if !m.HasColumn(&Asset{}, field) {
					if err := m.AddColumn(&Asset{}, field); err != nil {
						return err
					}
				}
			}
			return nil
		},
	},
}

// Migrate brings the schema of gdb up to SchemaVersion.
func Migrate(gdb *gorm.DB, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := gdb.AutoMigrate(&Meta{}); err != nil {
		return fmt.Errorf("failed to migrate ledger meta table: %w", err)
	}

	meta, err := loadMeta(gdb)
	if err != nil {
		return err
	}
	if meta.SchemaVersion > SchemaVersion {
		return fmt.Errorf("ledger schema version %d is newer than supported version %d", meta.SchemaVersion, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= meta.SchemaVersion {
			continue
		}
		err := gdb.Transaction(func(tx *gorm.DB) error {
			if err := m.apply(tx); err != nil {
				return err
			}
			return tx.Model(&Meta{}).Where("id = ?", meta.ID).Update("schema_version", m.version).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		log.Infow("Applied ledger migration", zap.Int("version", m.version), zap.String("name", m.name))
		meta.SchemaVersion = m.version
	}
	return nil
}

func loadMeta(tx *gorm.DB) (Meta, error) {
	var meta Meta
	err := tx.Order("id").First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		meta = Meta{ID: 1}
		if err := tx.Create(&meta).Error; err != nil {
			return meta, fmt.Errorf("failed to create ledger meta row: %w", err)
		}
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("failed to read ledger meta row: %w", err)
	}
	return meta, nil
}
