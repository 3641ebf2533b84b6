package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileRow is the relational form of a ProfileRecord.
type ProfileRow struct {
	CommentID          string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	Source             string `gorm:"column:source;size:32;not null"`
	IdentityHash       string `gorm:"column:identity_hash;size:128;not null;index"`
	ImageReferenceURL  string `gorm:"column:image_reference_url;size:2048;not null"`
	ProviderProfileURL string `gorm:"column:provider_profile_url;size:2048;not null"`
	SocialHandle       string `gorm:"column:social_handle;size:320;not null"`
	RawFieldsJSON      string `gorm:"column:raw_fields_json;type:text;not null"`
	ResolvedAtSeconds  int64  `gorm:"column:resolved_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ProfileRow) TableName() string {
	return "comment_avatar_profiles"
}

// SQLStoreConfig describes the dependencies of a SQLStore.
type SQLStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLStore keeps profile records in a GORM-managed table.
type SQLStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSQLStore constructs a SQLStore. The schema is migrated by the database package.
func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError("metadata.sql_store.new", "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SQLStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get loads the record for a comment, reporting false when none exists.
func (s *SQLStore) Get(ctx context.Context, commentID profiles.CommentID) (profiles.ProfileRecord, bool, error) {
	var row ProfileRow
	err := s.db.WithContext(ctx).
		Where("comment_id = ?", commentID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return profiles.ProfileRecord{}, false, nil
	}
	if err != nil {
		logError(s.logger, opGet, "query_failed", err, zap.String("comment_id", commentID.String()))
		return profiles.ProfileRecord{}, false, newStoreError(opGet, "query_failed", err)
	}
	record, err := row.record()
	if err != nil {
		logError(s.logger, opGet, "decode_failed", err, zap.String("comment_id", commentID.String()))
		return profiles.ProfileRecord{}, false, newStoreError(opGet, "decode_failed", err)
	}
	return record, true, nil
}

// Set replaces the record stored for a comment.
func (s *SQLStore) Set(ctx context.Context, commentID profiles.CommentID, record profiles.ProfileRecord) error {
	if err := record.Validate(); err != nil {
		return newStoreError(opSet, "invalid_record", err)
	}
	row, err := newProfileRow(commentID, record, s.clock().UTC())
	if err != nil {
		return newStoreError(opSet, "encode_failed", err)
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "comment_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		logError(s.logger, opSet, "upsert_failed", err, zap.String("comment_id", commentID.String()))
		return newStoreError(opSet, "upsert_failed", err)
	}
	return nil
}

func newProfileRow(commentID profiles.CommentID, record profiles.ProfileRecord, resolvedAt time.Time) (ProfileRow, error) {
	rawFields := record.RawFields
	if rawFields == nil {
		rawFields = map[string]json.RawMessage{}
	}
	encoded, err := json.Marshal(rawFields)
	if err != nil {
		return ProfileRow{}, err
	}
	return ProfileRow{
		CommentID:          commentID.String(),
		Source:             string(record.Source),
		IdentityHash:       record.IdentityHash,
		ImageReferenceURL:  record.ImageReferenceURL,
		ProviderProfileURL: record.ProviderProfileURL,
		SocialHandle:       record.SocialHandle,
		RawFieldsJSON:      string(encoded),
		ResolvedAtSeconds:  resolvedAt.Unix(),
	}, nil
}

func (r ProfileRow) record() (profiles.ProfileRecord, error) {
	var rawFields map[string]json.RawMessage
	if r.RawFieldsJSON != "" {
		if err := json.Unmarshal([]byte(r.RawFieldsJSON), &rawFields); err != nil {
			return profiles.ProfileRecord{}, err
		}
	}
	if len(rawFields) == 0 {
		rawFields = nil
	}
	return profiles.ProfileRecord{
		Source:             profiles.Source(r.Source),
		IdentityHash:       r.IdentityHash,
		ImageReferenceURL:  r.ImageReferenceURL,
		ProviderProfileURL: r.ProviderProfileURL,
		SocialHandle:       r.SocialHandle,
		RawFields:          rawFields,
	}, nil
}
