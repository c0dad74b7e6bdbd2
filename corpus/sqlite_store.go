package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ownlingo/catalog-translate/translator"
)

// SQLiteStore keeps results in a local SQLite database, keyed by record key
// and target language. The corpus file itself is only read.
type SQLiteStore struct {
	db            *sql.DB
	path          string
	input         string
	defaultTarget string
}

// NewSQLiteStore opens (and migrates) the database at dbPath
func NewSQLiteStore(dbPath, input, defaultTarget string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Only the batch writer goroutine writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: dbPath, input: input, defaultTarget: defaultTarget}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS translations (
		record_key TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		object_id TEXT NOT NULL,
		field TEXT NOT NULL DEFAULT 'text',
		source_lang TEXT DEFAULT '',
		source_text TEXT DEFAULT '',
		translated_text TEXT DEFAULT '',
		provider TEXT DEFAULT '',
		duration_ms INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (record_key, target_lang)
	);

	CREATE INDEX IF NOT EXISTS idx_translations_object ON translations(object_id);
	`
	_, err := s.db.Exec(query)
	return err
}

// Load reads the input corpus and overlays stored results
func (s *SQLiteStore) Load(ctx context.Context) (*Document, error) {
	doc, err := ReadFile(s.input)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_key, target_lang, source_lang, translated_text, provider, duration_ms, error
		FROM translations`)
	if err != nil {
		return nil, fmt.Errorf("query translations: %w", err)
	}
	defer rows.Close()

	saved := make(map[string]savedResult)
	for rows.Next() {
		var key, target, source, text, provider, errMsg string
		var durationMs int64
		if err := rows.Scan(&key, &target, &source, &text, &provider, &durationMs, &errMsg); err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}

		r := savedResult{SourceLang: source, TargetLang: target, Error: errMsg}
		if text != "" {
			r.Translation = &Translation{Text: text, Provider: provider, DurationMs: durationMs}
		}
		saved[resultKey(key, target)] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read translations: %w", err)
	}

	applySaved(doc, s.defaultTarget, func(key, target string) (savedResult, bool) {
		r, ok := saved[resultKey(key, target)]
		return r, ok
	})
	return doc, nil
}

// Save upserts the record's result row
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	var text, provider string
	var durationMs int64
	if rec.Translation != nil {
		text, provider, durationMs = rec.Translation.Text, rec.Translation.Provider, rec.Translation.DurationMs
	}

	field := rec.Field
	if field == "" {
		field = DefaultField
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO translations (
			record_key, target_lang, object_id, field, source_lang, source_text,
			translated_text, provider, duration_ms, error, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_key, target_lang) DO UPDATE SET
			source_lang = excluded.source_lang,
			source_text = excluded.source_text,
			translated_text = excluded.translated_text,
			provider = excluded.provider,
			duration_ms = excluded.duration_ms,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		rec.Key(), translator.NormalizeLanguage(rec.TargetLang), rec.ID.String(), field, rec.SourceLang, rec.Text,
		text, provider, durationMs, rec.Error, time.Now().UTC(),
	)
	if err != nil {
		return &OutputError{Path: s.path, Err: err}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
