package corpus

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ownlingo/catalog-translate/translator"
)

// TranslationRow is the persisted result of one record in one target language
type TranslationRow struct {
	RecordKey      string `gorm:"primaryKey;size:255"`
	TargetLang     string `gorm:"primaryKey;size:35"`
	ObjectID       string `gorm:"size:255;not null;index"`
	Field          string `gorm:"size:100;not null"`
	SourceLang     string `gorm:"size:35"`
	SourceText     string `gorm:"type:text"`
	TranslatedText string `gorm:"type:text"`
	Provider       string `gorm:"size:100"`
	DurationMs     int64
	Error          string `gorm:"type:text"`
	UpdatedAt      time.Time
}

// TableName sets the table name
func (TranslationRow) TableName() string {
	return "catalog_translations"
}

// PostgresStore keeps results next to the catalog in PostgreSQL
type PostgresStore struct {
	db            *gorm.DB
	input         string
	defaultTarget string
}

// NewPostgresStore connects to dsn and migrates the results table
func NewPostgresStore(dsn, input, defaultTarget string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&TranslationRow{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &PostgresStore{db: db, input: input, defaultTarget: defaultTarget}, nil
}

// Load reads the input corpus and overlays stored results
func (s *PostgresStore) Load(ctx context.Context) (*Document, error) {
	doc, err := ReadFile(s.input)
	if err != nil {
		return nil, err
	}

	var rows []TranslationRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query translations: %w", err)
	}

	saved := make(map[string]savedResult, len(rows))
	for _, row := range rows {
		r := savedResult{SourceLang: row.SourceLang, TargetLang: row.TargetLang, Error: row.Error}
		if row.TranslatedText != "" {
			r.Translation = &Translation{Text: row.TranslatedText, Provider: row.Provider, DurationMs: row.DurationMs}
		}
		saved[resultKey(row.RecordKey, row.TargetLang)] = r
	}

	applySaved(doc, s.defaultTarget, func(key, target string) (savedResult, bool) {
		r, ok := saved[resultKey(key, target)]
		return r, ok
	})
	return doc, nil
}

// Save upserts the record's result row
func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	row := TranslationRow{
		RecordKey:  rec.Key(),
		TargetLang: translator.NormalizeLanguage(rec.TargetLang),
		ObjectID:   rec.ID.String(),
		Field:      rec.Field,
		SourceLang: rec.SourceLang,
		SourceText: rec.Text,
		Error:      rec.Error,
		UpdatedAt:  time.Now().UTC(),
	}
	if row.Field == "" {
		row.Field = DefaultField
	}
	if rec.Translation != nil {
		row.TranslatedText = rec.Translation.Text
		row.Provider = rec.Translation.Provider
		row.DurationMs = rec.Translation.DurationMs
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}, {Name: "target_lang"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return &OutputError{Path: "postgres", Err: err}
	}
	return nil
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
