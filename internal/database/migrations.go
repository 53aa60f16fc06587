package database

import (
	"errors"
	"time"

	"github.com/lanternlabs/keyline/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeOobModes = "2026-07-21_normalize_oob_modes"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeOobModes, apply: normalizeOobModes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeOobModes rewrites out-of-band mode values left behind by earlier
// writers so every stored mode is inside the closed set.
func normalizeOobModes(db *gorm.DB) error {
	return db.Model(&users.Record{}).
		Where("oob_mode NOT IN (?, ?, ?)",
			string(users.OobModeResetPassword),
			string(users.OobModeVerifyEmail),
			string(users.OobModeNone)).
		Update("oob_mode", string(users.OobModeNone)).Error
}
