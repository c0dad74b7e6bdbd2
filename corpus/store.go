package corpus

import (
	"context"

	"github.com/ownlingo/catalog-translate/translator"
)

// Store loads a corpus and persists per-record results as they arrive
type Store interface {
	// Load returns the records to process, with any previously saved
	// results already applied.
	Load(ctx context.Context) (*Document, error)

	// Save persists the result fields of one record. Implementations must
	// be durable on return.
	Save(ctx context.Context, rec *Record) error

	Close() error
}

// savedResult is what a store keeps per record between runs
type savedResult struct {
	SourceLang  string
	TargetLang  string
	Translation *Translation
	Error       string
}

// applySaved overlays previously saved results onto freshly loaded records.
// lookup receives the record key and the effective target language.
func applySaved(doc *Document, defaultTarget string, lookup func(key, target string) (savedResult, bool)) {
	for _, rec := range doc.Records {
		target := rec.TargetLang
		if target == "" {
			target = defaultTarget
		}

		saved, ok := lookup(rec.Key(), translator.NormalizeLanguage(target))
		if !ok {
			continue
		}

		if saved.Translation != nil {
			rec.Translation = saved.Translation
			rec.Error = ""
		} else if !rec.Translated() {
			rec.Error = saved.Error
		}
		if rec.SourceLang == "" {
			rec.SourceLang = saved.SourceLang
		}
		if rec.TargetLang == "" {
			rec.TargetLang = saved.TargetLang
		}
	}
}

func resultKey(key, target string) string {
	return key + "\x00" + target
}
