package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/metadata"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDropProfilesWithoutImage = "2026-10-12_drop_profiles_without_image"
	migrationLowercaseSocialHandles   = "2026-10-12_lowercase_social_handles"
)

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
		{name: migrationDropProfilesWithoutImage, apply: dropProfilesWithoutImage},
		{name: migrationLowercaseSocialHandles, apply: lowercaseSocialHandles},
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

// Rows without an image URL can never be mirrored or rendered.
func dropProfilesWithoutImage(db *gorm.DB) error {
	return db.Where("image_reference_url = ?", "").Delete(&metadata.ProfileRow{}).Error
}

func lowercaseSocialHandles(db *gorm.DB) error {
	return db.Model(&metadata.ProfileRow{}).
		Where("source = ? AND social_handle <> lower(social_handle)", string(profiles.SourceSocial)).
		Update("social_handle", gorm.Expr("lower(social_handle)")).Error
}
